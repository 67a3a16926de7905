package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	pkgerrors "github.com/angelmondragon/meetlessons-backend/pkg/errors"
)

type pairBody struct {
	Code  string `json:"code" validate:"required,max=32"`
	Label string `json:"label" validate:"max=255"`
}

func TestDecodeJSONBody(t *testing.T) {
	var body pairBody
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"code":"ABCD1234","label":"Laptop"}`))
	if err := DecodeJSONBody(req, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "ABCD1234" || body.Label != "Laptop" {
		t.Fatalf("unexpected body %+v", body)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"label":"Laptop"}`))
	err := DecodeJSONBody(req, &pairBody{})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := pkgerrors.As(err).Details().(map[string]string)
	if !ok || details["code"] != "is required" {
		t.Fatalf("unexpected details %#v", pkgerrors.As(err).Details())
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"code":"A","extra":true}`))
	if err := DecodeJSONBody(req, &pairBody{}); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected unknown field rejection, got %v", err)
	}
}

func TestDecodeOptionalJSONBody(t *testing.T) {
	var body struct {
		CouponCode string `json:"coupon_code" validate:"max=8"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	if err := DecodeOptionalJSONBody(req, &body); err != nil {
		t.Fatalf("expected empty body accepted, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"coupon_code":"TOOLONGCODE"}`))
	if err := DecodeOptionalJSONBody(req, &body); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseUUIDParam(t *testing.T) {
	r := chi.NewRouter()
	var got error
	r.Get("/devices/{deviceId}", func(w http.ResponseWriter, req *http.Request) {
		_, got = ParseUUIDParam(req, "deviceId")
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/devices/not-a-uuid", nil))
	if !pkgerrors.IsCode(got, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", got)
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/devices/7b0c6a56-7d19-4a86-9b88-2f3d0c4fb3a1", nil))
	if got != nil {
		t.Fatalf("expected valid uuid, got %v", got)
	}
}
