package auction

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/AiSchool-Admin/maksab-sub003/internal/bidding"
	"github.com/AiSchool-Admin/maksab-sub003/internal/identity"
	"github.com/AiSchool-Admin/maksab-sub003/internal/listing"
	"github.com/AiSchool-Admin/maksab-sub003/internal/model"
)

// IdempotencyHeader carries the optional client key of a bid attempt.
const IdempotencyHeader = "Idempotency-Key"

// maxBodyBytes bounds request bodies; every write body is a few fields.
const maxBodyBytes = 4 << 10

// Handler exposes the engine over HTTP.
type Handler struct {
	engine *Engine
	logger *slog.Logger
}

func NewHandler(e *Engine, logger *slog.Logger) *Handler {
	return &Handler{engine: e, logger: logger}
}

// Routes mounts the auction API on r. auth guards every write.
func (h *Handler) Routes(r chi.Router, auth func(http.Handler) http.Handler) {
	r.Get("/auctions", h.ListAuctions)
	r.Get("/auctions/{auctionID}", h.GetAuction)
	r.Get("/auctions/{auctionID}/bids", h.ListBids)

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Post("/auctions", h.CreateAuction)
		r.Post("/auctions/{auctionID}/bids", h.PlaceBid)
		r.Post("/auctions/{auctionID}/buy-now", h.BuyNow)
		r.Post("/auctions/{auctionID}/cancel", h.CancelAuction)
	})
}

// CreateAuctionRequest is the JSON body for POST /auctions.
type CreateAuctionRequest struct {
	ListingID string `json:"listing_id"`
}

// PlaceBidRequest is the JSON body for POST /auctions/{id}/bids.
type PlaceBidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// CreateAuction handles POST /api/v1/auctions
func (h *Handler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req CreateAuctionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.ListingID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "listing_id is required")
		return
	}

	a, err := h.engine.CreateAuction(r.Context(), req.ListingID, identity.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// ListAuctions handles GET /api/v1/auctions?status=
func (h *Handler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	var status model.Status
	if s := r.URL.Query().Get("status"); s != "" {
		parsed, err := model.ParseStatus(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		status = parsed
	}

	auctions, err := h.engine.ListAuctions(r.Context(), status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if auctions == nil {
		auctions = []model.Auction{}
	}
	writeJSON(w, http.StatusOK, auctions)
}

// GetAuction handles GET /api/v1/auctions/{auctionID}
func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.GetAuctionState(r.Context(), chi.URLParam(r, "auctionID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// ListBids handles GET /api/v1/auctions/{auctionID}/bids?limit=
func (h *Handler) ListBids(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	bids, err := h.engine.ListBids(r.Context(), chi.URLParam(r, "auctionID"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if bids == nil {
		bids = []model.Bid{}
	}
	writeJSON(w, http.StatusOK, bids)
}

// PlaceBid handles POST /api/v1/auctions/{auctionID}/bids
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var req PlaceBidRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	res, err := h.engine.PlaceBid(r.Context(),
		chi.URLParam(r, "auctionID"),
		identity.UserID(r.Context()),
		req.Amount,
		r.Header.Get(IdempotencyHeader),
	)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// BuyNow handles POST /api/v1/auctions/{auctionID}/buy-now
func (h *Handler) BuyNow(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.BuyNow(r.Context(), chi.URLParam(r, "auctionID"), identity.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CancelAuction handles POST /api/v1/auctions/{auctionID}/cancel
func (h *Handler) CancelAuction(w http.ResponseWriter, r *http.Request) {
	a, err := h.engine.CancelAuction(r.Context(), chi.URLParam(r, "auctionID"), identity.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type errorBody struct {
	Error      string           `json:"error"`
	Code       string           `json:"code"`
	MinNextBid *decimal.Decimal `json:"min_next_bid,omitempty"`
}

// fail maps an engine error to its HTTP response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var tooLow *bidding.BidTooLowError
	switch {
	case errors.As(err, &tooLow):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error:      err.Error(),
			Code:       "bid_too_low",
			MinNextBid: &tooLow.MinNextBid,
		})
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrListingNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, bidding.ErrAuctionAlreadyPurchased):
		writeError(w, http.StatusConflict, "auction_already_purchased", err.Error())
	case errors.Is(err, bidding.ErrAuctionNotActive):
		writeError(w, http.StatusConflict, "auction_not_active", err.Error())
	case errors.Is(err, bidding.ErrAuctionExpired):
		writeError(w, http.StatusConflict, "auction_expired", err.Error())
	case errors.Is(err, bidding.ErrSelfOutbid):
		writeError(w, http.StatusConflict, "self_outbid", err.Error())
	case errors.Is(err, bidding.ErrBuyNowUnavailable):
		writeError(w, http.StatusConflict, "buy_now_unavailable", err.Error())
	case errors.Is(err, ErrHasBids):
		writeError(w, http.StatusConflict, "has_bids", err.Error())
	case errors.Is(err, ErrAuctionExists):
		writeError(w, http.StatusConflict, "auction_exists", err.Error())
	case errors.Is(err, ErrNotSeller):
		writeError(w, http.StatusForbidden, "not_seller", err.Error())
	case errors.Is(err, bidding.ErrSellerCannotBid):
		writeError(w, http.StatusForbidden, "seller_cannot_bid", err.Error())
	case errors.Is(err, bidding.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "invalid_amount", err.Error())
	case errors.Is(err, listing.ErrInvalidTerms):
		writeError(w, http.StatusBadRequest, "invalid_terms", err.Error())
	case errors.Is(err, ErrIdempotencyKeyReused):
		writeError(w, http.StatusUnprocessableEntity, "idempotency_key_reused", err.Error())
	case errors.Is(err, ErrConcurrencyConflict):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "concurrency_conflict", "auction is busy, retry")
	default:
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: message, Code: code})
}
