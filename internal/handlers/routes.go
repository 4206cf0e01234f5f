package handlers

import (
	"net/http"

	"atum-server/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router collects everything the HTTP surface is built from.
type Router struct {
	App      *AppHandler
	Session  *SessionHandler
	GitHub   *GitHubHandler
	Jobs     *JobProcessor
	Verifier middleware.TokenVerifier
	Profiles middleware.ProfileReader
	// JobAuth guards the job endpoint.
	JobAuth gin.HandlerFunc
}

// Engine builds the gin engine with every route registered.
func (r Router) Engine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogging())
	engine.Use(middleware.Metrics())
	engine.Use(middleware.Authenticate(r.Verifier))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if r.GitHub != nil {
		engine.POST("/webhooks/github", r.GitHub.HandleWebhook)
	}

	jobs := engine.Group("/jobs")
	if r.JobAuth != nil {
		jobs.Use(r.JobAuth)
	}
	jobs.POST("/process", r.Jobs.ProcessJob)

	api := engine.Group("/api")
	api.GET("/session", r.Session.GetSession)
	api.POST("/session/auth-error", r.Session.TranslateAuthError)

	signedIn := api.Group("", middleware.RequireUser())
	signedIn.POST("/onboarding", r.App.CompleteOnboarding)

	app := signedIn.Group("", middleware.RequireProfile(r.Profiles))
	app.GET("/state", r.App.GetState)
	app.GET("/dashboard", r.App.GetDashboard)
	app.POST("/activity", r.App.AddActivity)
	app.DELETE("/activity/:id", r.App.DeleteActivity)
	app.POST("/ideas", r.App.AddIdea)
	app.DELETE("/ideas/:id", r.App.DeleteIdea)
	app.POST("/drafts", r.App.AddDraft)
	app.PATCH("/drafts/:id", r.App.UpdateDraft)
	app.PATCH("/profile", r.App.UpdateProfile)
	app.POST("/tribes", r.App.CreateTribe)
	app.POST("/tribes/:id/join", r.App.JoinTribe)
	app.POST("/tribes/:id/leave", r.App.LeaveTribe)
	app.GET("/tribes/:id/posts", r.App.ListTribePosts)
	app.POST("/tribes/:id/posts", r.App.CreateTribePost)
	app.POST("/tribes/:id/posts/:postId/like", r.App.LikeTribePost)
	app.POST("/users/:id/follow", r.App.FollowUser)
	app.DELETE("/users/:id/follow", r.App.UnfollowUser)
	app.POST("/friends/requests", r.App.SendFriendRequest)
	app.POST("/friends/requests/:id/accept", r.App.AcceptFriendRequest)
	app.POST("/friends/requests/:id/reject", r.App.RejectFriendRequest)
	app.POST("/integrations/github/sync", r.App.SyncCommits)
	app.POST("/narrative", r.App.GenerateNarrative)
	app.DELETE("/notifications/:id", r.App.DismissNotification)

	return engine
}
