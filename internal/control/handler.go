package control

import (
	"strconv"

	"github.com/eleven-am/see-server/internal/gateway"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(server *gateway.Server) {
	server.Handle(EventSeeRequest, h.HandleSeeRequest)
	server.Handle(EventLearnFace, h.HandleLearnFace)
	server.Handle(EventYoloRequest, h.HandleYoloRequest)
}

func (h *Handler) HandleSeeRequest(conn *gateway.Conn, msg *gateway.Message) {
	h.service.SeeRequest(conn.ID(), msg.Data, func(r StatusReply) {
		_ = conn.Ack(msg.ID, r)
	})
}

// HandleLearnFace expects the caller's identifier for the face as data,
// either a string or a number.
func (h *Handler) HandleLearnFace(conn *gateway.Conn, msg *gateway.Message) {
	_ = h.service.LearnFace(conn.ID(), decodeKey(msg), func(r LearnReply) {
		_ = conn.Ack(msg.ID, r)
	})
}

func (h *Handler) HandleYoloRequest(conn *gateway.Conn, msg *gateway.Message) {
	_ = conn.Ack(msg.ID, h.service.ListFaces())
}

func decodeKey(msg *gateway.Message) string {
	var key string
	if err := msg.Decode(&key); err == nil {
		return key
	}
	var n int64
	if err := msg.Decode(&n); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return ""
}
