package enums

import "fmt"

// Service identifies a metered upstream API.
type Service string

const (
	ServiceAIAPI    Service = "AI_API"
	ServiceCrawlAPI Service = "CRAWL_API"
)

// Services lists every metered service in ledger order.
var Services = []Service{ServiceAIAPI, ServiceCrawlAPI}

// String implements fmt.Stringer.
func (s Service) String() string {
	return string(s)
}

// IsValid reports whether the service is metered.
func (s Service) IsValid() bool {
	for _, candidate := range Services {
		if candidate == s {
			return true
		}
	}
	return false
}

// TracksTokens reports whether usage for the service rolls token windows.
func (s Service) TracksTokens() bool {
	return s == ServiceAIAPI
}

// ParseService converts raw input into a Service.
func ParseService(value string) (Service, error) {
	for _, candidate := range Services {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid service %q", value)
}
