package subscriptions

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/meterly-backend/api/middleware"
	subsvc "github.com/angelmondragon/meterly-backend/internal/subscriptions"
	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	"github.com/angelmondragon/meterly-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/meterly-backend/pkg/errors"
	"github.com/angelmondragon/meterly-backend/pkg/logger"
)

type stubService struct {
	subscribeIn subsvc.SubscribeInput
	updated     bool
	statusIn    subsvc.StatusInput
	cancelIn    subsvc.CancelInput
	frozen      bool
	replayed    bool
	err         error
}

func (s *stubService) outcome(shopID uuid.UUID) (*subsvc.Outcome, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &subsvc.Outcome{
		Subscription: &models.Subscription{ID: uuid.New(), ShopID: shopID, Status: enums.SubscriptionStatusActive},
		Replayed:     s.replayed,
	}, nil
}

func (s *stubService) Subscribe(ctx context.Context, in subsvc.SubscribeInput) (*subsvc.Outcome, error) {
	s.subscribeIn = in
	return s.outcome(in.ShopID)
}

func (s *stubService) Update(ctx context.Context, in subsvc.SubscribeInput) (*subsvc.Outcome, error) {
	s.subscribeIn = in
	s.updated = true
	return s.outcome(in.ShopID)
}

func (s *stubService) Renew(ctx context.Context, in subsvc.RenewInput) (*subsvc.Outcome, error) {
	return s.outcome(in.ShopID)
}

func (s *stubService) Cancel(ctx context.Context, in subsvc.CancelInput) (*subsvc.Outcome, error) {
	s.cancelIn = in
	return s.outcome(in.ShopID)
}

func (s *stubService) Freeze(ctx context.Context, shopID uuid.UUID, recipient string) (*subsvc.Outcome, error) {
	s.frozen = true
	return s.outcome(shopID)
}

func (s *stubService) Unfreeze(ctx context.Context, shopID uuid.UUID, recipient string) (*subsvc.Outcome, error) {
	s.frozen = false
	return s.outcome(shopID)
}

func (s *stubService) UpdateStatus(ctx context.Context, in subsvc.StatusInput) (*subsvc.Outcome, error) {
	s.statusIn = in
	return s.outcome(in.ShopID)
}

func (s *stubService) GetCurrent(ctx context.Context, shopID uuid.UUID) (*models.Subscription, error) {
	out, err := s.outcome(shopID)
	if err != nil {
		return nil, err
	}
	return out.Subscription, nil
}

func (s *stubService) Details(ctx context.Context, shopID uuid.UUID) (*subsvc.Details, error) {
	sub, err := s.GetCurrent(ctx, shopID)
	if err != nil {
		return nil, err
	}
	return &subsvc.Details{Subscription: sub, Plan: &models.Plan{Name: "FREE"}}, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func shopRequest(method, target, body string, shopID uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	return req.WithContext(middleware.WithShop(req.Context(), shopID.String(), "acme"))
}

func TestSubscribeCreated(t *testing.T) {
	shopID := uuid.New()
	svc := &stubService{}
	req := shopRequest(http.MethodPost, "/api/v1/subscriptions", `{"plan_name":" PRO ","external_transaction_id":"ch_1"}`, shopID)
	resp := httptest.NewRecorder()
	Subscribe(svc, testLogger())(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.subscribeIn.ShopID != shopID || svc.subscribeIn.PlanName != "PRO" || svc.subscribeIn.ExternalTransactionID != "ch_1" {
		t.Fatalf("unexpected input %+v", svc.subscribeIn)
	}
	if svc.updated {
		t.Fatal("subscribe should not call update")
	}
}

func TestSubscribeReplayReturnsOK(t *testing.T) {
	svc := &stubService{replayed: true}
	req := shopRequest(http.MethodPut, "/api/v1/subscriptions", `{"plan_name":"PRO"}`, uuid.New())
	resp := httptest.NewRecorder()
	Update(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if !svc.updated {
		t.Fatal("expected update to be called")
	}
}

func TestSubscribeRequiresPlan(t *testing.T) {
	req := shopRequest(http.MethodPost, "/api/v1/subscriptions", `{}`, uuid.New())
	resp := httptest.NewRecorder()
	Subscribe(&stubService{}, testLogger())(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestSubscribeWithoutShopContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/subscriptions", strings.NewReader(`{"plan_name":"PRO"}`))
	resp := httptest.NewRecorder()
	Subscribe(&stubService{}, testLogger())(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestCancelAcceptsEmptyBody(t *testing.T) {
	shopID := uuid.New()
	svc := &stubService{}
	req := shopRequest(http.MethodPost, "/api/v1/subscriptions/cancel", "", shopID)
	resp := httptest.NewRecorder()
	Cancel(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.cancelIn.ShopID != shopID || svc.cancelIn.Prorate {
		t.Fatalf("unexpected input %+v", svc.cancelIn)
	}
}

func TestFreezeAndUnfreeze(t *testing.T) {
	svc := &stubService{}
	shopID := uuid.New()

	Freeze(svc, testLogger())(httptest.NewRecorder(), shopRequest(http.MethodPost, "/api/v1/subscriptions/freeze", "", shopID))
	if !svc.frozen {
		t.Fatal("expected freeze")
	}
	Unfreeze(svc, testLogger())(httptest.NewRecorder(), shopRequest(http.MethodPost, "/api/v1/subscriptions/unfreeze", "", shopID))
	if svc.frozen {
		t.Fatal("expected unfreeze")
	}
}

func TestUpdateStatusParsesStatus(t *testing.T) {
	shopID := uuid.New()
	subID := uuid.New()
	svc := &stubService{}
	req := shopRequest(http.MethodPatch, "/api/v1/subscriptions/"+subID.String()+"/status", `{"status":"cancelled","prorate":true}`, shopID)
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("subscriptionId", subID.String())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
	resp := httptest.NewRecorder()
	UpdateStatus(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.statusIn.Status != enums.SubscriptionStatusCancelled || !svc.statusIn.Prorate {
		t.Fatalf("unexpected input %+v", svc.statusIn)
	}
	if svc.statusIn.ShopID != shopID || svc.statusIn.SubscriptionID != subID {
		t.Fatalf("unexpected ids %+v", svc.statusIn)
	}
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	subID := uuid.New()
	req := shopRequest(http.MethodPatch, "/x", `{"status":"PAUSED"}`, uuid.New())
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("subscriptionId", subID.String())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
	resp := httptest.NewRecorder()
	UpdateStatus(&stubService{}, testLogger())(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestCurrentMapsServiceErrors(t *testing.T) {
	svc := &stubService{err: pkgerrors.New(pkgerrors.CodeShopNotFound, "shop not found")}
	resp := httptest.NewRecorder()
	Current(svc, testLogger())(resp, shopRequest(http.MethodGet, "/api/v1/subscriptions/current", "", uuid.New()))

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if envelope.Error.Code != string(pkgerrors.CodeShopNotFound) {
		t.Fatalf("unexpected code %s", envelope.Error.Code)
	}
}
