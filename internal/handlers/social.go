package handlers

import (
	"context"
	"net/http"

	"atum-server/internal/store"

	"github.com/gin-gonic/gin"
)

type postRequest struct {
	Content string `json:"content"`
}

type friendRequest struct {
	ToID string `json:"toId"`
}

// CreateTribe founds a tribe with the caller as its first member.
func (h *AppHandler) CreateTribe(c *gin.Context) {
	var input store.NewTribe
	if !bind(c, &input) {
		return
	}
	tribe, res := h.storeFor(c).CreateTribe(c.Request.Context(), input)
	respond(c, http.StatusCreated, tribe, res)
}

func (h *AppHandler) JoinTribe(c *gin.Context) {
	respond(c, http.StatusOK, nil, h.storeFor(c).JoinTribe(c.Request.Context(), c.Param("id")))
}

func (h *AppHandler) LeaveTribe(c *gin.Context) {
	respond(c, http.StatusOK, nil, h.storeFor(c).LeaveTribe(c.Request.Context(), c.Param("id")))
}

// ListTribePosts returns a tribe's posts, newest first, and makes it the active tribe.
func (h *AppHandler) ListTribePosts(c *gin.Context) {
	posts, err := h.storeFor(c).FetchTribePosts(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, actionResponse{Data: posts})
}

func (h *AppHandler) CreateTribePost(c *gin.Context) {
	var req postRequest
	if !bind(c, &req) {
		return
	}
	post, res := h.storeFor(c).CreateTribePost(c.Request.Context(), c.Param("id"), req.Content)
	respond(c, http.StatusCreated, post, res)
}

func (h *AppHandler) LikeTribePost(c *gin.Context) {
	respond(c, http.StatusOK, nil, h.storeFor(c).LikeTribePost(c.Request.Context(), c.Param("postId")))
}

// FollowUser follows another builder. Both users' cached state is refreshed.
func (h *AppHandler) FollowUser(c *gin.Context) {
	target := c.Param("id")
	res := h.storeFor(c).FollowUser(c.Request.Context(), target)
	if res.Err == nil {
		h.registry.Evict(target)
	}
	respond(c, http.StatusOK, nil, res)
}

func (h *AppHandler) UnfollowUser(c *gin.Context) {
	target := c.Param("id")
	res := h.storeFor(c).UnfollowUser(c.Request.Context(), target)
	if res.Err == nil {
		h.registry.Evict(target)
	}
	respond(c, http.StatusOK, nil, res)
}

// SendFriendRequest asks another builder to connect. A repeated request is an informational no-op.
func (h *AppHandler) SendFriendRequest(c *gin.Context) {
	var req friendRequest
	if !bind(c, &req) {
		return
	}
	res := h.storeFor(c).SendFriendRequest(c.Request.Context(), req.ToID)
	if res.Err == nil {
		h.registry.Evict(req.ToID)
	}
	respond(c, http.StatusOK, nil, res)
}

func (h *AppHandler) AcceptFriendRequest(c *gin.Context) {
	h.resolveFriendRequest(c, (*store.Store).AcceptFriendRequest)
}

func (h *AppHandler) RejectFriendRequest(c *gin.Context) {
	h.resolveFriendRequest(c, (*store.Store).RejectFriendRequest)
}

func (h *AppHandler) resolveFriendRequest(c *gin.Context, resolve func(*store.Store, context.Context, string) store.Result) {
	s := h.loaded(c)
	requestID := c.Param("id")

	var fromID string
	for _, req := range s.Snapshot().FriendRequests {
		if req.ID == requestID {
			fromID = req.FromID
		}
	}

	res := resolve(s, c.Request.Context(), requestID)
	if res.Err == nil && fromID != "" {
		h.registry.Evict(fromID)
	}
	respond(c, http.StatusOK, nil, res)
}
