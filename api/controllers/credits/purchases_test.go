package credits

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/meterly-backend/api/middleware"
	creditsvc "github.com/angelmondragon/meterly-backend/internal/credits"
	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	"github.com/angelmondragon/meterly-backend/pkg/logger"
	"github.com/angelmondragon/meterly-backend/pkg/pagination"
)

type stubCredits struct {
	purchaseIn creditsvc.PurchaseInput
	listIn     creditsvc.ListParams
	replayed   bool
}

func (s *stubCredits) Purchase(ctx context.Context, in creditsvc.PurchaseInput) (*creditsvc.PurchaseResult, error) {
	s.purchaseIn = in
	return &creditsvc.PurchaseResult{Purchase: &models.CreditPurchase{ID: uuid.New(), ShopID: in.ShopID}, Replayed: s.replayed}, nil
}

func (s *stubCredits) List(ctx context.Context, params creditsvc.ListParams) (*creditsvc.ListResult, error) {
	s.listIn = params
	return &creditsvc.ListResult{}, nil
}

func withShop(req *http.Request, shopID uuid.UUID) *http.Request {
	return req.WithContext(middleware.WithShop(req.Context(), shopID.String(), "acme"))
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func TestPurchaseCreated(t *testing.T) {
	shopID := uuid.New()
	packageID := uuid.New()
	svc := &stubCredits{}
	req := withShop(httptest.NewRequest(http.MethodPost, "/api/v1/credits/purchases",
		strings.NewReader(`{"package_id":"`+packageID.String()+`","external_transaction_id":"ch_9"}`)), shopID)
	resp := httptest.NewRecorder()
	Purchase(svc, testLogger())(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.purchaseIn.ShopID != shopID || svc.purchaseIn.PackageID != packageID || svc.purchaseIn.ExternalTransactionID != "ch_9" {
		t.Fatalf("unexpected input %+v", svc.purchaseIn)
	}
}

func TestPurchaseReplayReturnsOK(t *testing.T) {
	svc := &stubCredits{replayed: true}
	req := withShop(httptest.NewRequest(http.MethodPost, "/api/v1/credits/purchases",
		strings.NewReader(`{"package_id":"`+uuid.NewString()+`"}`)), uuid.New())
	resp := httptest.NewRecorder()
	Purchase(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestPurchaseRejectsBadPackageID(t *testing.T) {
	req := withShop(httptest.NewRequest(http.MethodPost, "/api/v1/credits/purchases",
		strings.NewReader(`{"package_id":"nope"}`)), uuid.New())
	resp := httptest.NewRecorder()
	Purchase(&stubCredits{}, testLogger())(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestListForwardsQuery(t *testing.T) {
	shopID := uuid.New()
	svc := &stubCredits{}
	cursor := pagination.EncodeCursor(pagination.Cursor{CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), ID: uuid.New()})
	req := withShop(httptest.NewRequest(http.MethodGet, "/api/v1/credits/purchases?status=active&limit=5&cursor="+cursor, nil), shopID)
	resp := httptest.NewRecorder()
	List(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if svc.listIn.ShopID != shopID || svc.listIn.Status != "ACTIVE" || svc.listIn.Limit != 5 || svc.listIn.Cursor != cursor {
		t.Fatalf("unexpected params %+v", svc.listIn)
	}
}

func TestListRejectsForeignCursor(t *testing.T) {
	req := withShop(httptest.NewRequest(http.MethodGet, "/api/v1/credits/purchases?cursor=abc", nil), uuid.New())
	resp := httptest.NewRecorder()
	List(&stubCredits{}, testLogger())(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
