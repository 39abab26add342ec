package validators

import (
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/storefront-payments/pkg/errors"
	"github.com/stretchr/testify/require"
)

type initializeBody struct {
	Reference   string `json:"reference" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	CallbackURL string `json:"callback_url" validate:"omitempty,url"`
}

func TestDecodeJSONBodyValid(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"reference":"R1","email":"a@b.co"}`))
	var body initializeBody
	require.NoError(t, DecodeJSONBody(req, &body))
	require.Equal(t, "R1", body.Reference)
}

func TestDecodeJSONBodyReportsFieldsByJSONName(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"email":"nope","callback_url":"relative/path"}`))
	var body initializeBody
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details := typed.Details().(map[string]string)
	require.Equal(t, "is required", details["reference"])
	require.Equal(t, "must be a valid email", details["email"])
	require.Equal(t, "must be an absolute url", details["callback_url"])
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"reference":"R1","email":"a@b.co","amount":5}`))
	var body initializeBody
	err := DecodeJSONBody(req, &body)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestFirstQueryValue(t *testing.T) {
	req := httptest.NewRequest("GET", "/cb?reference=%20&trxref=T-9", nil)
	require.Equal(t, "T-9", FirstQueryValue(req, "reference", "trxref"))

	req = httptest.NewRequest("GET", "/cb", nil)
	require.Equal(t, "", FirstQueryValue(req, "reference", "trxref"))
}

func TestReference(t *testing.T) {
	ref, err := Reference("  R-1 ")
	require.NoError(t, err)
	require.Equal(t, "R-1", ref)

	_, err = Reference(" ")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = Reference(strings.Repeat("x", maxReferenceLength+1))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestReferenceRejectsUnsafeCharacters(t *testing.T) {
	_, err := Reference("R1<script>")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	ref, err := Reference("ord_2026.10=a-b")
	require.NoError(t, err)
	require.Equal(t, "ord_2026.10=a-b", ref)
}

func TestDecodeJSONBodyRejectsTrailingAndOversizedBodies(t *testing.T) {
	var body initializeBody
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"reference":"R1","email":"a@b.co"}{"x":1}`))
	require.True(t, pkgerrors.IsCode(DecodeJSONBody(req, &body), pkgerrors.CodeValidation))

	huge := `{"reference":"` + strings.Repeat("a", MaxBodyBytes) + `","email":"a@b.co"}`
	req = httptest.NewRequest("POST", "/", strings.NewReader(huge))
	err := DecodeJSONBody(req, &body)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	require.Contains(t, pkgerrors.As(err).Details().(map[string]any)["error"], "exceeds")

	req = httptest.NewRequest("POST", "/", strings.NewReader(``))
	err = DecodeJSONBody(req, &body)
	require.Equal(t, "body is empty", pkgerrors.As(err).Details().(map[string]any)["error"])
}

func TestDecodeJSONBodyPayrefTag(t *testing.T) {
	var body struct {
		Reference string `json:"reference" validate:"required,payref"`
	}
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"reference":"has space"}`))
	err := DecodeJSONBody(req, &body)
	require.Equal(t, fieldMessages["payref"], pkgerrors.As(err).Details().(map[string]string)["reference"])
}

func TestTrimKeepsRunesWhole(t *testing.T) {
	require.Equal(t, "ab", Trim("  ab  ", 0))
	require.Equal(t, "a", Trim("aña", 2))
	require.Equal(t, "añ", Trim("aña", 3))
}
