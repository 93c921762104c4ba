package http

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"

	"github.com/donmikel/assetstore/applications/assetstore"
	"github.com/donmikel/assetstore/applications/assetstore/domain"
)

const maxMultipartMemory = 32 << 20

const (
	ownerPath = "/assets/{tenant}/{category}/{owner}"
	assetPath = ownerPath + "/{filename}"
)

func NewRouter(assets assetstore.AssetService, reconciler assetstore.ImageReconciler, logger log.Logger) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(ownerPath+"/reconcile", ReconcileHandler(reconciler, logger)).Methods(http.MethodPost)
	r.HandleFunc(assetPath, PutAssetHandler(assets, logger)).Methods(http.MethodPut)
	r.HandleFunc(assetPath, GetAssetHandler(assets, logger)).Methods(http.MethodGet)
	r.HandleFunc(assetPath, DeleteAssetHandler(assets, logger)).Methods(http.MethodDelete)
	r.HandleFunc(ownerPath, ListAssetsHandler(assets, logger)).Methods(http.MethodGet)
	r.HandleFunc(ownerPath, DeleteOwnerHandler(assets, logger)).Methods(http.MethodDelete)
	return r
}

type assetResponse struct {
	FileName    string `json:"file_name"`
	Variant     string `json:"variant"`
	ContentType string `json:"content_type,omitempty"`
	ByteLength  int64  `json:"byte_length"`
}

type failureResponse struct {
	FileName string `json:"file_name"`
	Variant  string `json:"variant"`
	Kind     string `json:"kind"`
	Error    string `json:"error"`
}

type reconcileResponse struct {
	Created   int               `json:"created"`
	Updated   int               `json:"updated"`
	Deleted   int               `json:"deleted"`
	Unchanged int               `json:"unchanged"`
	Failures  []failureResponse `json:"failures"`
}

func PutAssetHandler(svc assetstore.AssetService, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := assetID(r)
		if err != nil {
			r.Body.Close()
			writeErr(w, err)
			return
		}

		asset, err := svc.PutAsset(r.Context(), domain.Asset{
			AssetID:     id,
			ContentType: r.Header.Get("Content-Type"),
			ByteLength:  r.ContentLength,
		}, r.Body)
		if err != nil {
			level.Error(logger).Log("msg", "PutAsset error",
				"err", err,
			)
			writeErr(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAssetResponse(asset), logger)
	}
}

func GetAssetHandler(svc assetstore.AssetService, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := assetID(r)
		if err != nil {
			writeErr(w, err)
			return
		}

		body, err := svc.GetAsset(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		defer body.Close()

		w.Header().Set("Content-Type", "application/octet-stream")
		if _, err = io.Copy(w, body); err != nil {
			level.Error(logger).Log("msg", "error body copy", "err", err)
			return
		}
	}
}

func DeleteAssetHandler(svc assetstore.AssetService, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := ownerFromRequest(r)
		if err != nil {
			writeErr(w, err)
			return
		}

		if err = svc.DeleteAsset(r.Context(), owner, mux.Vars(r)["filename"]); err != nil {
			level.Error(logger).Log("msg", "DeleteAsset error", "err", err)
			writeErr(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func ListAssetsHandler(svc assetstore.AssetService, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := ownerFromRequest(r)
		if err != nil {
			writeErr(w, err)
			return
		}

		assets := make([]assetResponse, 0)
		for asset, err := range svc.ListAssets(r.Context(), owner) {
			if err != nil {
				level.Error(logger).Log("msg", "ListAssets error", "err", err)
				writeErr(w, err)
				return
			}
			assets = append(assets, toAssetResponse(asset))
		}

		writeJSON(w, http.StatusOK, assets, logger)
	}
}

func DeleteOwnerHandler(svc assetstore.AssetService, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := ownerFromRequest(r)
		if err != nil {
			writeErr(w, err)
			return
		}

		if err = svc.DeleteAllForOwner(r.Context(), owner); err != nil {
			level.Error(logger).Log("msg", "DeleteAllForOwner error", "err", err)
			writeErr(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// ReconcileHandler takes a multipart form holding the complete desired image set. File parts
// are named after the size variant they carry ("original", "large", "small") and "keep" fields
// list file names to leave unchanged. Images missing from the form are deleted.
func ReconcileHandler(svc assetstore.ImageReconciler, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := ownerFromRequest(r)
		if err != nil {
			writeErr(w, err)
			return
		}

		if err = r.ParseMultipartForm(maxMultipartMemory); err != nil {
			writeErr(w, fmt.Errorf("can't parse form: %v: %w", err, domain.ErrInvalidKey))
			return
		}
		defer r.MultipartForm.RemoveAll()

		images := desiredImages(r.MultipartForm)

		result, err := svc.Reconcile(r.Context(), domain.SaveRequest{Owner: owner, Images: images})
		if err != nil {
			level.Error(logger).Log("msg", "Reconcile error", "err", err)
			writeErr(w, err)
			return
		}

		resp := reconcileResponse{
			Created:   result.Created,
			Updated:   result.Updated,
			Deleted:   result.Deleted,
			Unchanged: result.Unchanged,
			Failures:  make([]failureResponse, 0, len(result.Failures)),
		}
		for _, f := range result.Failures {
			resp.Failures = append(resp.Failures, failureResponse{
				FileName: f.FileName,
				Variant:  string(f.Variant),
				Kind:     f.Kind.Error(),
				Error:    f.Err.Error(),
			})
		}

		status := http.StatusOK
		if result.Partial() {
			status = http.StatusMultiStatus
		}
		writeJSON(w, status, resp, logger)
	}
}

func desiredImages(form *multipart.Form) []domain.DesiredImage {
	var images []domain.DesiredImage

	for _, name := range form.Value["keep"] {
		images = append(images, domain.DesiredImage{FileName: name})
	}

	for _, variant := range domain.Variants {
		for _, header := range form.File[string(variant)] {
			images = append(images, domain.DesiredImage{
				FileName:    header.Filename,
				Variant:     variant,
				ContentType: header.Header.Get("Content-Type"),
				Body:        &lazyPart{header: header},
			})
		}
	}

	return images
}

// lazyPart opens the uploaded file on first read, so only images that are actually stored
// hold a file handle.
type lazyPart struct {
	header *multipart.FileHeader
	file   multipart.File
}

func (p *lazyPart) Read(b []byte) (int, error) {
	if p.file == nil {
		f, err := p.header.Open()
		if err != nil {
			return 0, err
		}
		p.file = f
	}
	return p.file.Read(b)
}

func (p *lazyPart) Close() error {
	if p.file == nil {
		return nil
	}
	return p.file.Close()
}

func ownerFromRequest(r *http.Request) (domain.Owner, error) {
	vars := mux.Vars(r)

	category, err := domain.ParseCategory(vars["category"])
	if err != nil {
		return domain.Owner{}, err
	}

	return domain.Owner{
		TenantCode: vars["tenant"],
		Category:   category,
		OwnerID:    vars["owner"],
	}, nil
}

func assetID(r *http.Request) (domain.AssetID, error) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		return domain.AssetID{}, err
	}

	variant, err := domain.ParseSizeVariant(r.URL.Query().Get("variant"))
	if err != nil {
		return domain.AssetID{}, err
	}

	filename := mux.Vars(r)["filename"]
	if filename == "" {
		return domain.AssetID{}, fmt.Errorf("empty filename: %w", domain.ErrInvalidKey)
	}

	return owner.Asset(filename, variant), nil
}

func toAssetResponse(a domain.Asset) assetResponse {
	return assetResponse{
		FileName:    a.FileName,
		Variant:     string(a.Variant),
		ContentType: a.ContentType,
		ByteLength:  a.ByteLength,
	}
}

func statusOf(err error) int {
	switch domain.KindOf(err) {
	case domain.ErrAssetNotFound:
		return http.StatusNotFound
	case domain.ErrInvalidKey, domain.ErrDuplicateImage, domain.ErrMissingContent:
		return http.StatusBadRequest
	case domain.ErrStorageQuotaExceeded:
		return http.StatusInsufficientStorage
	}
	return http.StatusServiceUnavailable
}

func writeJSON(w http.ResponseWriter, status int, v interface{}, logger log.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		level.Error(logger).Log("msg", "can't write response", "err", err)
	}
}

func writeErr(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Retryable", strconv.FormatBool(domain.Retryable(err)))
	w.WriteHeader(statusOf(err))
	_, err = w.Write([]byte(err.Error()))
	if err != nil {
		fmt.Println("can't write response ", err)
	}
}
