package api_test

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/gin-gonic/gin"
	"github.com/snowsledge/Data-Timestamp/internal/api"
	"github.com/snowsledge/Data-Timestamp/internal/checkpoint"
	"github.com/snowsledge/Data-Timestamp/internal/merkle"
	"github.com/snowsledge/Data-Timestamp/internal/stamp"
	"github.com/snowsledge/Data-Timestamp/pkg/proof"
	"go.uber.org/zap"
)

func checksum(s string) string { return proof.Sum([]byte(s)).String() }

func setupStampRouter(t *testing.T) (*gin.Engine, *stamp.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(api.RequestID())
	svc := stamp.NewService(merkle.New(), nil, zap.NewNop())
	h := api.NewStampHandler(svc, zap.NewNop())
	v1 := r.Group("/api/v1")
	h.Register(v1)
	return r, svc
}

func do(router http.Handler, method, path string, body []byte, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func stampBody(cs string) []byte {
	b, _ := json.Marshal(map[string]string{"checksum": cs})
	return b
}

func TestStamp_201(t *testing.T) {
	router, _ := setupStampRouter(t)

	w := do(router, http.MethodPost, "/api/v1/stamps", stampBody(checksum("hello")))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var receipt stamp.Receipt
	if err := json.Unmarshal(w.Body.Bytes(), &receipt); err != nil {
		t.Fatal(err)
	}
	if !receipt.Committed || receipt.Index != 0 || receipt.TreeSize != 1 {
		t.Errorf("unexpected receipt %+v", receipt)
	}
	if w.Header().Get(api.RequestIDHeader) == "" {
		t.Error("missing request id header")
	}
}

func TestStamp_409_duplicate(t *testing.T) {
	router, _ := setupStampRouter(t)
	do(router, http.MethodPost, "/api/v1/stamps", stampBody(checksum("hello")))

	w := do(router, http.MethodPost, "/api/v1/stamps", stampBody(strings.ToUpper(checksum("hello"))))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestStamp_400(t *testing.T) {
	router, svc := setupStampRouter(t)

	for _, body := range [][]byte{
		stampBody("not-a-checksum"),
		stampBody(strings.Repeat("a", 63)),
		[]byte(`{}`),
		[]byte(`{"checksum":`),
	} {
		w := do(router, http.MethodPost, "/api/v1/stamps", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, w.Code)
		}
	}
	if svc.Size() != 0 {
		t.Errorf("tree grew to %d on bad input", svc.Size())
	}
}

func TestGetStamp(t *testing.T) {
	router, _ := setupStampRouter(t)
	do(router, http.MethodPost, "/api/v1/stamps", stampBody(checksum("a")))
	do(router, http.MethodPost, "/api/v1/stamps", stampBody(checksum("b")))

	w := do(router, http.MethodGet, "/api/v1/stamps/"+checksum("b"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["index"] != float64(1) {
		t.Errorf("index = %v", resp["index"])
	}

	if w := do(router, http.MethodGet, "/api/v1/stamps/"+checksum("c"), nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := do(router, http.MethodGet, "/api/v1/stamps/xyz", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestGetProof_jsonAndCBOR(t *testing.T) {
	router, _ := setupStampRouter(t)
	for _, d := range []string{"a", "b", "c"} {
		do(router, http.MethodPost, "/api/v1/stamps", stampBody(checksum(d)))
	}
	var head stamp.Head
	json.Unmarshal(do(router, http.MethodGet, "/api/v1/root", nil).Body.Bytes(), &head)

	w := do(router, http.MethodGet, "/api/v1/stamps/"+checksum("b")+"/proof", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var p proof.Inclusion
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if ok, err := proof.VerifyInclusion(&p, head.Root); err != nil || !ok {
		t.Errorf("json proof: ok=%v err=%v", ok, err)
	}

	w = do(router, http.MethodGet, "/api/v1/stamps/"+checksum("b")+"/proof", nil, "Accept", proof.ContentTypeCBOR)
	if ct := w.Header().Get("Content-Type"); ct != proof.ContentTypeCBOR {
		t.Fatalf("content type = %q", ct)
	}
	var pc proof.Inclusion
	if err := cbor.Unmarshal(w.Body.Bytes(), &pc); err != nil {
		t.Fatal(err)
	}
	if ok, err := proof.VerifyInclusion(&pc, head.Root); err != nil || !ok {
		t.Errorf("cbor proof: ok=%v err=%v", ok, err)
	}

	if w := do(router, http.MethodGet, "/api/v1/stamps/"+checksum("z")+"/proof", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestRoot_emptyTree(t *testing.T) {
	router, _ := setupStampRouter(t)

	w := do(router, http.MethodGet, "/api/v1/root", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var head stamp.Head
	json.Unmarshal(w.Body.Bytes(), &head)
	if head.Size != 0 || head.Root != proof.EmptyRoot.String() {
		t.Errorf("empty head = %+v", head)
	}
}

func TestRootAt(t *testing.T) {
	router, _ := setupStampRouter(t)
	do(router, http.MethodPost, "/api/v1/stamps", stampBody(checksum("a")))

	cases := map[string]int{
		"/api/v1/roots/0":  http.StatusOK,
		"/api/v1/roots/1":  http.StatusOK,
		"/api/v1/roots/2":  http.StatusBadRequest,
		"/api/v1/roots/-1": http.StatusBadRequest,
	}
	for path, want := range cases {
		if w := do(router, http.MethodGet, path, nil); w.Code != want {
			t.Errorf("%s: expected %d, got %d", path, want, w.Code)
		}
	}
}

func TestConsistency(t *testing.T) {
	router, _ := setupStampRouter(t)
	for _, d := range []string{"a", "b", "c", "d", "e"} {
		do(router, http.MethodPost, "/api/v1/stamps", stampBody(checksum(d)))
	}
	var old, cur stamp.Head
	json.Unmarshal(do(router, http.MethodGet, "/api/v1/roots/2", nil).Body.Bytes(), &old)
	json.Unmarshal(do(router, http.MethodGet, "/api/v1/root", nil).Body.Bytes(), &cur)

	for _, from := range []string{"2", old.Root} {
		w := do(router, http.MethodGet, "/api/v1/consistency?from="+from, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("from=%s: expected 200, got %d: %s", from, w.Code, w.Body.String())
		}
		var p proof.Consistency
		json.Unmarshal(w.Body.Bytes(), &p)
		if ok, err := proof.VerifyConsistency(&p, old.Root, cur.Root); err != nil || !ok {
			t.Errorf("from=%s: ok=%v err=%v", from, ok, err)
		}
	}

	cases := map[string]int{
		"/api/v1/consistency":                          http.StatusBadRequest,
		"/api/v1/consistency?from=0":                   http.StatusBadRequest,
		"/api/v1/consistency?from=3&to=2":              http.StatusBadRequest,
		"/api/v1/consistency?from=1&to=9":              http.StatusBadRequest,
		"/api/v1/consistency?from=1&to=x":              http.StatusBadRequest,
		"/api/v1/consistency?from=" + checksum("nope"): http.StatusNotFound,
	}
	for path, want := range cases {
		if w := do(router, http.MethodGet, path, nil); w.Code != want {
			t.Errorf("%s: expected %d, got %d", path, want, w.Code)
		}
	}
}

func TestValidate(t *testing.T) {
	router, _ := setupStampRouter(t)
	for _, d := range []string{"a", "b", "c"} {
		do(router, http.MethodPost, "/api/v1/stamps", stampBody(checksum(d)))
	}
	good := do(router, http.MethodGet, "/api/v1/stamps/"+checksum("a")+"/proof", nil).Body.Bytes()

	w := do(router, http.MethodPost, "/api/v1/validate", good)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res stamp.Validation
	json.Unmarshal(w.Body.Bytes(), &res)
	if !res.Valid {
		t.Error("expected valid=true")
	}

	var p proof.Inclusion
	json.Unmarshal(good, &p)
	p.LeafIndex = 1
	forged, _ := json.Marshal(p)
	w = do(router, http.MethodPost, "/api/v1/validate", forged)
	json.Unmarshal(w.Body.Bytes(), &res)
	if w.Code != http.StatusOK || res.Valid {
		t.Errorf("forged index: status %d valid=%v", w.Code, res.Valid)
	}

	cborProof := do(router, http.MethodGet, "/api/v1/stamps/"+checksum("c")+"/proof", nil, "Accept", proof.ContentTypeCBOR).Body.Bytes()
	w = do(router, http.MethodPost, "/api/v1/validate", cborProof, "Content-Type", proof.ContentTypeCBOR)
	json.Unmarshal(w.Body.Bytes(), &res)
	if w.Code != http.StatusOK || !res.Valid {
		t.Errorf("cbor proof: status %d valid=%v", w.Code, res.Valid)
	}
}

func TestValidate_422(t *testing.T) {
	router, _ := setupStampRouter(t)

	for _, body := range []string{`garbage`, `{"kind":"inclusion","algorithm":"sha256"}`} {
		w := do(router, http.MethodPost, "/api/v1/validate", []byte(body))
		if w.Code != http.StatusUnprocessableEntity {
			t.Errorf("%s: expected 422, got %d", body, w.Code)
		}
	}
}

func TestCheckpointKey(t *testing.T) {
	router, svc := setupStampRouter(t)

	w := do(router, http.MethodGet, "/api/v1/checkpoint/key", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unsigned: expected 404, got %d: %s", w.Code, w.Body.String())
	}

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	svc.SetSigner(checkpoint.NewSigner(key, "stampd-test"))
	w = do(router, http.MethodPost, "/api/v1/stamps", stampBody(checksum("hello")))
	var receipt stamp.Receipt
	if err := json.Unmarshal(w.Body.Bytes(), &receipt); err != nil {
		t.Fatal(err)
	}

	w = do(router, http.MethodGet, "/api/v1/checkpoint/key", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var info checkpoint.PublicKeyInfo
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	pub, err := checkpoint.ParsePublicKeyPEM(info.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := checkpoint.Verify(receipt.Checkpoint, pub, info.Issuer)
	if err != nil {
		t.Fatalf("receipt checkpoint does not verify with the published key: %v", err)
	}
	if claims.RootHash != receipt.Root || claims.TreeSize != 1 {
		t.Errorf("claims = %d/%s", claims.TreeSize, claims.RootHash)
	}
}
