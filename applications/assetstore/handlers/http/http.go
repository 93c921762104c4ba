package http

import (
	"net/http"

	"github.com/go-kit/log"

	"github.com/donmikel/assetstore/applications/assetstore"
	"github.com/donmikel/assetstore/applications/assetstore/config"
)

func NewHTTPServer(conf config.Api, assets assetstore.AssetService, reconciler assetstore.ImageReconciler, logger log.Logger) *http.Server {
	mux := NewRouter(assets, reconciler, logger)
	return &http.Server{
		Addr:    conf.HTTPAddr,
		Handler: mux,
	}
}
