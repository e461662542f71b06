// Package httpapi is an HTTP bridge onto the auction service.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/dutchauction/auctionapi"
	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/service"
)

type HTTPError struct {
	Code       int    `json:"code"`
	ErrorClass string `json:"error_class,omitempty"`
	Message    string `json:"message"`
}

type ServerParams struct {
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

type API struct {
	svc *service.Service
	log *logrus.Entry
}

func New(svc *service.Service, log *logrus.Entry) *API {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &API{svc: svc, log: log.WithField("package", "HTTPAPI")}
}

func (a *API) Routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/ping", a.handlePing).Methods(http.MethodGet)
	r.HandleFunc("/v1/auction", a.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/auction/price", a.handlePrice).Methods(http.MethodGet)
	r.HandleFunc("/v1/auction/bids", a.handleBid).Methods(http.MethodPost)
	r.HandleFunc("/v1/auction/permit_bids", a.handlePermitBid).Methods(http.MethodPost)
	r.HandleFunc("/v1/auction/upgrade", a.handleUpgrade).Methods(http.MethodPost)
	r.HandleFunc("/v1/key", a.handleKey).Methods(http.MethodGet)
	r.HandleFunc("/v1/receipts/{id}", a.handleReceipt).Methods(http.MethodGet)

	return loggingMiddleware(r, a.log)
}

// Server returns an http.Server for addr with the API mounted.
func (a *API) Server(addr string, params ServerParams) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           a.Routes(),
		ReadTimeout:       params.ReadTimeout,
		ReadHeaderTimeout: params.ReadHeaderTimeout,
		WriteTimeout:      params.WriteTimeout,
		IdleTimeout:       params.IdleTimeout,
	}
}

func loggingMiddleware(next http.Handler, logger *logrus.Entry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.WithField("method", r.Method).Info(r.RequestURI)
		next.ServeHTTP(w, r)
	})
}

func (a *API) RespondError(w http.ResponseWriter, code int, class, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	resp := HTTPError{Code: code, ErrorClass: class, Message: message}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		a.log.WithField("response", resp).WithError(err).Error("couldn't write error response")
	}
}

func (a *API) RespondOK(w http.ResponseWriter, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		a.log.WithField("response", response).WithError(err).Error("couldn't write OK response")
	}
}

func (a *API) respondServiceError(w http.ResponseWriter, err error) {
	if service.IsNotFound(err) {
		a.RespondError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	a.RespondError(w, StatusCode(err), string(core.Classify(err)), err.Error())
}

// StatusCode maps a service error onto an HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidBid), errors.Is(err, core.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrUnauthorizedUpgrade):
		return http.StatusForbidden
	case errors.Is(err, core.ErrUnsupported):
		return http.StatusNotImplemented
	}
	switch core.Classify(err) {
	case core.ClassAdmission, core.ClassUpgrade:
		return http.StatusConflict
	case core.ClassSettlement, core.ClassPermit, core.ClassConfiguration:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) decode(w http.ResponseWriter, req *http.Request, v any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, req.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		a.RespondError(w, http.StatusBadRequest, "request", err.Error())
		return false
	}
	return true
}

func (a *API) handlePing(w http.ResponseWriter, _ *http.Request) {
	a.RespondOK(w, a.svc.Ping())
}

func (a *API) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp, err := a.svc.Status()
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.RespondOK(w, resp)
}

func (a *API) handlePrice(w http.ResponseWriter, req *http.Request) {
	var priceReq auctionapi.PriceRequest
	if at := req.URL.Query().Get("at"); at != "" {
		unit, err := strconv.ParseUint(at, 10, 64)
		if err != nil {
			a.RespondError(w, http.StatusBadRequest, "request", "at must be a time unit")
			return
		}
		priceReq.TimeUnit = &unit
	}
	resp, err := a.svc.Price(priceReq)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.RespondOK(w, resp)
}

func (a *API) handleBid(w http.ResponseWriter, req *http.Request) {
	var bidReq auctionapi.BidRequest
	if !a.decode(w, req, &bidReq) {
		return
	}
	resp, err := a.svc.Bid(req.Context(), bidReq)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.RespondOK(w, resp)
}

func (a *API) handlePermitBid(w http.ResponseWriter, req *http.Request) {
	var permitReq auctionapi.PermitBidRequest
	if !a.decode(w, req, &permitReq) {
		return
	}
	resp, err := a.svc.BidWithPermit(req.Context(), permitReq)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.RespondOK(w, resp)
}

func (a *API) handleUpgrade(w http.ResponseWriter, req *http.Request) {
	var upgradeReq auctionapi.UpgradeRequest
	if !a.decode(w, req, &upgradeReq) {
		return
	}
	resp, err := a.svc.Upgrade(req.Context(), upgradeReq)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.RespondOK(w, resp)
}

func (a *API) handleKey(w http.ResponseWriter, _ *http.Request) {
	resp, err := a.svc.KeyInfo()
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.RespondOK(w, resp)
}

func (a *API) handleReceipt(w http.ResponseWriter, req *http.Request) {
	resp, err := a.svc.Receipt(req.Context(), mux.Vars(req)["id"])
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.RespondOK(w, resp)
}
