package realtime

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/eleven-am/see-server/internal/shared"
	"github.com/labstack/echo/v4"
	"github.com/pion/webrtc/v4"
)

const (
	msgNoProducer      = "Error connecting to RaspPi: Socket connection not established"
	msgUnknownViewer   = "Client not connected to server"
	msgStreamNotActive = "Error connecting to stream: stream has not started yet"
)

type Handler struct {
	manager *Manager
	log     *slog.Logger
}

func NewHandler(mgr *Manager, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		manager: mgr,
		log:     log,
	}
}

type OfferRequest struct {
	SDP      string `json:"sdp"`
	Type     string `json:"type"`
	ClientID string `json:"client_id,omitempty"`
}

type OfferResponse struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/offer", h.HandleProducerOffer)
	e.POST("/consumer", h.HandleViewerOffer)
	e.GET("/ice-servers", h.HandleICEServers)
}

func (h *Handler) HandleProducerOffer(c echo.Context) error {
	_, offer, err := h.readOffer(c)
	if err != nil {
		return err
	}

	answer, err := h.manager.AcceptProducerOffer(offer)
	if err != nil {
		return h.offerError(err)
	}
	return c.JSON(http.StatusOK, OfferResponse{SDP: answer.SDP, Type: answer.Type.String()})
}

func (h *Handler) HandleViewerOffer(c echo.Context) error {
	req, offer, err := h.readOffer(c)
	if err != nil {
		return err
	}

	answer, err := h.manager.AcceptViewerOffer(req.ClientID, offer)
	if err != nil {
		return h.offerError(err)
	}
	return c.JSON(http.StatusOK, OfferResponse{SDP: answer.SDP, Type: answer.Type.String()})
}

func (h *Handler) HandleICEServers(c echo.Context) error {
	servers := h.iceServersResponse()
	return c.JSON(http.StatusOK, map[string][]ICEServer{"ice_servers": servers})
}

func (h *Handler) readOffer(c echo.Context) (*OfferRequest, webrtc.SessionDescription, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, h.maxSDPSize()+1))
	if err != nil {
		return nil, webrtc.SessionDescription{}, shared.BadRequest("invalid_body", "failed to read request body")
	}
	if int64(len(body)) > h.maxSDPSize() {
		return nil, webrtc.SessionDescription{}, shared.BadRequest("sdp_too_large", "session description too large")
	}

	var req OfferRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, webrtc.SessionDescription{}, shared.BadRequest("invalid_body", "invalid JSON body")
	}
	if req.SDP == "" {
		return nil, webrtc.SessionDescription{}, shared.BadRequest("missing_sdp", "missing sdp")
	}
	if req.Type != "" && webrtc.NewSDPType(req.Type) != webrtc.SDPTypeOffer {
		return nil, webrtc.SessionDescription{}, shared.BadRequest("invalid_sdp_type", "expected an offer")
	}

	return &req, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: req.SDP}, nil
}

func (h *Handler) offerError(err error) error {
	switch {
	case errors.Is(err, ErrNoActiveProducer):
		return shared.BadRequest("no_producer", msgNoProducer)
	case errors.Is(err, ErrUnidentifiedViewer):
		return shared.BadRequest("unknown_viewer", msgUnknownViewer)
	case errors.Is(err, ErrStreamNotStarted):
		return shared.BadRequest("stream_not_started", msgStreamNotActive)
	}
	h.log.Error("failed to negotiate peer link", "error", err)
	return shared.BadRequest("negotiation_failed", "failed to process offer")
}

func (h *Handler) maxSDPSize() int64 {
	return int64(h.manager.Config().MaxSDPSize)
}

func (h *Handler) iceServersResponse() []ICEServer {
	cfgServers := h.manager.Config().Servers()
	servers := make([]ICEServer, 0, len(cfgServers))

	for _, s := range cfgServers {
		servers = append(servers, ICEServer(s))
	}

	return servers
}
