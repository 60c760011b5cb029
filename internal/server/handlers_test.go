package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/patchdb/patchdb/internal/catalog"
	"github.com/patchdb/patchdb/internal/config"
	"github.com/patchdb/patchdb/internal/embedding"
	"github.com/patchdb/patchdb/internal/filestore"
	"github.com/patchdb/patchdb/internal/groupindex"
	"github.com/patchdb/patchdb/internal/models"
	"github.com/patchdb/patchdb/internal/patches"
	"github.com/patchdb/patchdb/internal/vector"
)

type stubEmbedder struct {
	vectors map[string][]float32
}

func (e *stubEmbedder) Embed(_ context.Context, imageBytes []byte) ([]float32, error) {
	vec, ok := e.vectors[string(imageBytes)]
	if !ok {
		return nil, embedding.ErrUnreadableImage
	}
	return vec, nil
}

func (e *stubEmbedder) Dimensions() int { return 3 }
func (e *stubEmbedder) Close() error    { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *catalog.SQLiteCatalog) {
	t.Helper()
	root := t.TempDir()
	cat, err := catalog.NewSQLiteCatalog(filepath.Join(root, "patchdb.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cat.Close() })
	groups, err := groupindex.New(filepath.Join(root, "groups.bleve"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { groups.Close() })

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.DatabasePath = filepath.Join(root, "patchdb.db")
	cfg.Storage.IndexDir = filepath.Join(root, "indexes")
	cfg.Storage.ImagesDir = filepath.Join(root, "images")

	embedder := &stubEmbedder{vectors: map[string][]float32{
		"imgX":     {1, 0, 0},
		"imgNearX": {0.9, 0.43589, 0},
	}}
	svc := patches.NewService(
		cat,
		embedder,
		vector.NewFileStore(cfg.Storage.IndexDir),
		filestore.NewStore(cfg.Storage.ImagesDir),
		groups,
		&cfg.Search,
	)
	srv := NewServer(svc, cat, cfg, zap.NewNop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, cat
}

func uploadImage(t *testing.T, ts *httptest.Server, userID int64, filename string, payload []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(
		fmt.Sprintf("%s/api/v1/%d/upload", ts.URL, userID),
		mw.FormDataContentType(),
		&body,
	)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func postJSON(t *testing.T, url string, payload interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatal(err)
	}
}

func TestHandleUpsertUser(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/user", map[string]string{"username": "alice"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first upsert: status %d", resp.StatusCode)
	}
	var user models.User
	decodeJSON(t, resp, &user)
	if user.Username != "alice" || user.ID == 0 {
		t.Errorf("unexpected user: %+v", user)
	}

	resp = postJSON(t, ts.URL+"/api/v1/user", map[string]string{"username": "alice"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("second upsert: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHandleUpload(t *testing.T) {
	ts, cat := newTestServer(t)
	userID, err := cat.InsertUser(context.Background(), "bob")
	if err != nil {
		t.Fatal(err)
	}

	resp := uploadImage(t, ts, userID, "x.png", []byte("imgX"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status %d", resp.StatusCode)
	}
	var first models.UploadResponse
	decodeJSON(t, resp, &first)
	if first.Patch.ID == 0 {
		t.Error("missing patch id")
	}
	if len(first.Matches) != 0 || len(first.UngroupedMatches) != 0 {
		t.Errorf("first upload should not match: %+v", first)
	}

	resp = uploadImage(t, ts, userID, "y.png", []byte("imgNearX"))
	var second models.UploadResponse
	decodeJSON(t, resp, &second)
	if len(second.UngroupedMatches) != 1 || second.UngroupedMatches[0].ID != first.Patch.ID {
		t.Errorf("near-duplicate should match first upload: %+v", second)
	}
}

func TestHandleUpload_UnknownUser(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := uploadImage(t, ts, 999, "x.png", []byte("imgX"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status %d, want 404", resp.StatusCode)
	}
}

func TestHandleUpload_MissingImage(t *testing.T) {
	ts, cat := newTestServer(t)
	userID, _ := cat.InsertUser(context.Background(), "carol")

	resp := postJSON(t, fmt.Sprintf("%s/api/v1/%d/upload", ts.URL, userID), map[string]string{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status %d, want 400", resp.StatusCode)
	}
}

func TestHandleUpload_UnreadableImage(t *testing.T) {
	ts, cat := newTestServer(t)
	userID, _ := cat.InsertUser(context.Background(), "dave")

	resp := uploadImage(t, ts, userID, "bad.png", []byte("garbage"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status %d, want 400", resp.StatusCode)
	}
}

func TestHandleGroupFlow(t *testing.T) {
	ts, cat := newTestServer(t)
	ctx := context.Background()
	userID, _ := cat.InsertUser(ctx, "erin")

	resp := uploadImage(t, ts, userID, "x.png", []byte("imgX"))
	var uploaded models.UploadResponse
	decodeJSON(t, resp, &uploaded)

	resp = postJSON(t, fmt.Sprintf("%s/api/v1/%d/groups", ts.URL, userID), map[string]interface{}{
		"name":     "Eagle Scout",
		"patch_id": uploaded.Patch.ID,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create group status %d", resp.StatusCode)
	}
	var created struct {
		GroupID   int64  `json:"group_id"`
		GroupName string `json:"group_name"`
	}
	decodeJSON(t, resp, &created)
	if created.GroupID == 0 || created.GroupName != "Eagle Scout" {
		t.Errorf("unexpected create response: %+v", created)
	}

	// Near-duplicate now reconciles to the group.
	resp = uploadImage(t, ts, userID, "y.png", []byte("imgNearX"))
	var matched models.UploadResponse
	decodeJSON(t, resp, &matched)
	if len(matched.Matches) != 1 {
		t.Fatalf("expected grouped match: %+v", matched)
	}
	if matched.Matches[0].GroupID == nil || *matched.Matches[0].GroupID != created.GroupID {
		t.Errorf("wrong group in match: %+v", matched.Matches[0])
	}

	// The group is findable by name search.
	searchResp, err := http.Get(fmt.Sprintf("%s/api/v1/%d/groups/search?q=eagle", ts.URL, userID))
	if err != nil {
		t.Fatal(err)
	}
	var searched struct {
		Groups []*models.PatchGroup `json:"groups"`
	}
	decodeJSON(t, searchResp, &searched)
	if len(searched.Groups) != 1 || searched.Groups[0].ID != created.GroupID {
		t.Errorf("group search: %+v", searched.Groups)
	}

	// Mark the group as favorite.
	favBody := bytes.NewReader([]byte(`{"is_favorite": true}`))
	favReq, _ := http.NewRequest(http.MethodPut,
		fmt.Sprintf("%s/api/v1/%d/groups/%d/favorite", ts.URL, userID, created.GroupID), favBody)
	favReq.Header.Set("Content-Type", "application/json")
	favResp, err := http.DefaultClient.Do(favReq)
	if err != nil {
		t.Fatal(err)
	}
	favResp.Body.Close()
	if favResp.StatusCode != http.StatusOK {
		t.Fatalf("set favorite status %d", favResp.StatusCode)
	}
	group, err := cat.GetPatchGroupByID(ctx, created.GroupID)
	if err != nil {
		t.Fatal(err)
	}
	if !group.IsFavorite {
		t.Error("group not marked favorite")
	}

	// Delete the group; both patches' rows and the group disappear.
	req, _ := http.NewRequest(http.MethodDelete,
		fmt.Sprintf("%s/api/v1/%d/groups/%d", ts.URL, userID, created.GroupID), nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("delete group status %d", delResp.StatusCode)
	}
	if _, err := cat.GetPatchGroupByID(ctx, created.GroupID); err == nil {
		t.Error("group row still present after delete")
	}
}

func TestHandleDeletePatch_Forbidden(t *testing.T) {
	ts, cat := newTestServer(t)
	ctx := context.Background()
	owner, _ := cat.InsertUser(ctx, "owner")
	intruder, _ := cat.InsertUser(ctx, "intruder")

	resp := uploadImage(t, ts, owner, "x.png", []byte("imgX"))
	var uploaded models.UploadResponse
	decodeJSON(t, resp, &uploaded)

	req, _ := http.NewRequest(http.MethodDelete,
		fmt.Sprintf("%s/api/v1/%d/patches/%d", ts.URL, intruder, uploaded.Patch.ID), nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer delResp.Body.Close()
	if delResp.StatusCode != http.StatusForbidden {
		t.Errorf("status %d, want 403", delResp.StatusCode)
	}
}

func TestHandleListPatches(t *testing.T) {
	ts, cat := newTestServer(t)
	userID, _ := cat.InsertUser(context.Background(), "frank")

	resp := uploadImage(t, ts, userID, "x.png", []byte("imgX"))
	var uploaded models.UploadResponse
	decodeJSON(t, resp, &uploaded)

	listResp, err := http.Get(fmt.Sprintf("%s/api/v1/%d/patches", ts.URL, userID))
	if err != nil {
		t.Fatal(err)
	}
	var listing models.PatchListing
	decodeJSON(t, listResp, &listing)
	if len(listing.UngroupedPatches) != 1 || listing.UngroupedPatches[0].ID != uploaded.Patch.ID {
		t.Errorf("unexpected listing: %+v", listing)
	}
}

func TestHandleHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status %d", resp.StatusCode)
	}
}

func TestHandleStatus(t *testing.T) {
	ts, cat := newTestServer(t)
	userID, _ := cat.InsertUser(context.Background(), "grace")
	uploadImage(t, ts, userID, "x.png", []byte("imgX")).Body.Close()

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	var status map[string]interface{}
	decodeJSON(t, resp, &status)
	if status["patches"].(float64) != 1 {
		t.Errorf("patches count: %v", status["patches"])
	}
}
