package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"github.com/mcintoshjames-sketch/MRM3-sub005/src/auth"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/handler"
	"github.com/mcintoshjames-sketch/MRM3-sub005/src/repository"
)

func StartServer(port string) {
	// Router with middleware
	r := chi.NewRouter()

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("\"/healthcheck\" error")
		}
	})

	// Authenticated query/command surface
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(repository.NewUserRepository()))

		r.Get("/exceptions", handler.DefaultListExceptionsHandler())
		r.Get("/exceptions/summary", handler.DefaultSummaryHandler())
		r.Get("/exceptions/{id}", handler.DefaultGetExceptionHandler())
		r.Post("/exceptions/{id}/acknowledge", handler.DefaultAcknowledgeExceptionHandler())
		r.Post("/exceptions/{id}/close", handler.DefaultCloseExceptionHandler())
		r.Post("/exceptions/detect-all", handler.DefaultDetectAllHandler())
	})

	// Graceful server
	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	// Shutdown on SIGINT or SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
