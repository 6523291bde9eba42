// Copyright 2021-2022 The adstudio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/alwitt/adstudio/apis"
	"github.com/alwitt/adstudio/common"
	"github.com/alwitt/adstudio/core"
	"github.com/alwitt/adstudio/metrics"
	"github.com/alwitt/adstudio/publish"
	"github.com/alwitt/adstudio/realtime"
	"github.com/alwitt/adstudio/storage"
	"github.com/apex/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/time/rate"
)

// ServerComponents the runtime objects behind the API server
type ServerComponents struct {
	Store       storage.DocumentStore
	Repo        *storage.Repository
	Collectors  *metrics.Collectors
	Registry    *realtime.Registry
	Broadcaster realtime.Broadcaster
	Studio      apis.APIRestStudioHandler
	Interaction apis.APIRestInteractionHandler
}

// DefineServerComponents build the storage, realtime, and API objects from config
//
// natsClient is optional. When given, realtime events are relayed through NATS. The caller must
// start the returned broadcaster.
func DefineServerComponents(
	runtimeContext context.Context,
	config *common.SystemConfig,
	instance string,
	version string,
	natsClient *core.NatsClient,
) (*ServerComponents, error) {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "server",
		"instance":  instance,
	}

	store, err := storage.GetSQLiteDocumentStore(config.Storage)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf(
			"Unable to open document store %s", config.Storage.SQLitePath,
		)
		return nil, err
	}
	repo := storage.GetRepository(store, config.Storage.DefaultListLimit)
	collectors := metrics.GetCollectors()

	// Realtime event delivery
	var relay realtime.Relay
	if natsClient != nil {
		if config.NATS == nil {
			_ = store.Close()
			return nil, fmt.Errorf("NATS client given without NATS config")
		}
		relay, err = realtime.GetNATSRelay(natsClient, config.NATS.EventSubject)
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to define NATS relay")
			_ = store.Close()
			return nil, err
		}
	}
	registry := realtime.GetRegistry(instance, config.Realtime.MaxSubscribers, collectors)
	broadcaster, err := realtime.GetBroadcaster(runtimeContext, registry, realtime.BroadcasterParams{
		Name:         instance,
		EventBuffer:  config.Realtime.EventBuffer,
		IdleEviction: config.Realtime.IdleEvictionDuration(),
		Relay:        relay,
		Observer:     collectors,
	})
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define event broadcaster")
		_ = store.Close()
		return nil, err
	}
	sessions, err := realtime.GetSessionManager(registry, config.Realtime.HeartbeatDuration())
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define session manager")
		_ = store.Close()
		return nil, err
	}

	// API handlers
	httpConfig := &config.API.HTTPSetting
	studio, err := apis.GetAPIRestStudioHandler(
		repo,
		publish.GetOrchestrator(repo, repo, repo, collectors),
		natsClient,
		httpConfig,
		version,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define studio handler")
		_ = store.Close()
		return nil, err
	}
	interaction, err := apis.GetAPIRestInteractionHandler(apis.InteractionHandlerParams{
		Repo:        repo,
		Broadcaster: broadcaster,
		Sessions:    sessions,
		ConnectLimiter: rate.NewLimiter(
			rate.Limit(config.Realtime.ConnectRate), config.Realtime.ConnectBurst,
		),
		Observer:  collectors,
		TypingTTL: config.Realtime.TypingTTLDuration(),
	}, httpConfig)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define interaction handler")
		_ = store.Close()
		return nil, err
	}

	return &ServerComponents{
		Store:       store,
		Repo:        repo,
		Collectors:  collectors,
		Registry:    registry,
		Broadcaster: broadcaster,
		Studio:      studio,
		Interaction: interaction,
	}, nil
}

// DefineRouter register every API route
func DefineRouter(config *common.SystemConfig, components *ServerComponents) *mux.Router {
	studio := components.Studio
	interaction := components.Interaction

	router := mux.NewRouter()

	// Metrics
	if config.Metrics.Enabled {
		router.Handle(config.Metrics.Path, components.Collectors.Handler()).Methods("GET")
	}

	mainRouter := apis.RegisterPathPrefix(router, config.API.Endpoints.PathPrefix, nil)

	// Service banner
	mainRouter.Methods("get").Path("/").HandlerFunc(studio.BannerHandler())

	// Campaigns
	_ = apis.RegisterPathPrefix(mainRouter, "/api/campaigns", map[string]http.HandlerFunc{
		"post": studio.CreateCampaignHandler(),
		"get":  studio.ListCampaignsHandler(),
	})

	// Accounts
	accountRouter := apis.RegisterPathPrefix(
		mainRouter, "/api/accounts", map[string]http.HandlerFunc{
			"post": studio.UpsertAccountHandler(),
			"get":  studio.ListAccountsHandler(),
		},
	)
	_ = apis.RegisterPathPrefix(accountRouter, "/{accountID}", map[string]http.HandlerFunc{
		"delete": studio.DeleteAccountHandler(),
	})

	// Publish
	_ = apis.RegisterPathPrefix(mainRouter, "/api/publish", map[string]http.HandlerFunc{
		"post": studio.PublishHandler(),
	})

	// Posts
	postRouter := apis.RegisterPathPrefix(mainRouter, "/api/posts", map[string]http.HandlerFunc{
		"post": interaction.CreateTopPostHandler(),
		"get":  interaction.ListTopPostsHandler(),
	})
	perPostRouter := apis.RegisterPathPrefix(postRouter, "/{postID}", nil)
	commentRouter := apis.RegisterPathPrefix(
		perPostRouter, "/comments", map[string]http.HandlerFunc{
			"post": interaction.CreateCommentHandler(),
			"get":  interaction.ListCommentsHandler(),
		},
	)
	_ = apis.RegisterPathPrefix(commentRouter, "/{commentID}", map[string]http.HandlerFunc{
		"put":    interaction.UpdateCommentHandler(),
		"delete": interaction.DeleteCommentHandler(),
	})
	chatRouter := apis.RegisterPathPrefix(perPostRouter, "/chat", map[string]http.HandlerFunc{
		"post": interaction.CreateChatMessageHandler(),
		"get":  interaction.ListChatMessagesHandler(),
	})
	_ = apis.RegisterPathPrefix(chatRouter, "/{messageID}", map[string]http.HandlerFunc{
		"put":    interaction.UpdateChatMessageHandler(),
		"delete": interaction.DeleteChatMessageHandler(),
	})

	// Typing and the event stream
	_ = apis.RegisterPathPrefix(mainRouter, "/api/typing", map[string]http.HandlerFunc{
		"post": interaction.TypingHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/api/stream", map[string]http.HandlerFunc{
		"get": interaction.StreamHandler(),
	})

	// Health check
	_ = apis.RegisterPathPrefix(mainRouter, "/alive", map[string]http.HandlerFunc{
		"get": studio.AliveHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/ready", map[string]http.HandlerFunc{
		"get": studio.ReadyHandler(),
	})

	// Add logging
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(studio, next)
	})

	return router
}

// RunServer run the API server
func RunServer(
	runtimeContext context.Context,
	config *common.SystemConfig,
	instance string,
	version string,
	natsClient *core.NatsClient,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "server",
		"instance":  instance,
	}

	components, err := DefineServerComponents(
		runtimeContext, config, instance, version, natsClient,
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := components.Store.Close(); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failed to close document store")
		}
	}()

	if err := components.Broadcaster.Start(wg); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start event broadcaster")
		return err
	}

	router := DefineRouter(config, components)
	corsHandler := handlers.CORS(
		handlers.AllowedOrigins(config.API.HTTPSetting.CORS.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{
			"Content-Type", config.API.HTTPSetting.Logging.RequestIDHeader,
		}),
	)(router)

	// -------------------------------------------------------------------
	// Start the HTTP server

	serverCfg := config.API.HTTPSetting.Server
	serverListen := fmt.Sprintf("%s:%d", serverCfg.ListenOn, serverCfg.Port)
	httpSrv := &http.Server{
		Addr:         serverListen,
		WriteTimeout: time.Second * time.Duration(serverCfg.WriteTimeout),
		ReadTimeout:  time.Second * time.Duration(serverCfg.ReadTimeout),
		IdleTimeout:  time.Second * time.Duration(serverCfg.IdleTimeout),
		Handler:      h2c.NewHandler(handlers.RecoveryHandler()(corsHandler), &http2.Server{}),
	}

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).WithFields(logTags).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runtimeContext.Done()

	// Streaming sessions end once their subscribers are closed
	if err := components.Broadcaster.Stop(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failure stopping event broadcaster")
	}

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failure during HTTP shutdown")
		}
	}

	return nil
}
