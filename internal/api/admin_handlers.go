// Package api: admin handlers for blocks and settings.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/convograph/convograph/internal/models"
)

func (s *Server) getSettingsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.Settings()))
}

func (s *Server) putSettingsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var settings models.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		slog.Warn("Server.putSettingsHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	s.SetSettings(settings)
	slog.Info("Server.putSettingsHandler: settings updated", "global_fallback", settings.Chatbot.GlobalFallback)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Settings updated", nil))
}

func (s *Server) createBlockHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var block models.Block
	if err := json.NewDecoder(r.Body).Decode(&block); err != nil {
		slog.Warn("Server.createBlockHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if block.ID == "" {
		block.ID = uuid.NewString()
	}
	if err := block.Validate(); err != nil {
		slog.Warn("Server.createBlockHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.store.CreateBlock(r.Context(), &block); err != nil {
		slog.Error("Server.createBlockHandler: failed to create block", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create block"))
		return
	}
	slog.Info("Server.createBlockHandler: block created", "block", block.ID, "name", block.Name)
	writeJSONResponse(w, http.StatusCreated, models.Success(block))
}

func (s *Server) getBlockHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	block, err := s.store.GetBlock(r.Context(), id)
	if err != nil {
		slog.Error("Server.getBlockHandler: failed to retrieve block", "block", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to retrieve block"))
		return
	}
	if block == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Block not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(block))
}

func (s *Server) updateBlockHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var block models.Block
	if err := json.NewDecoder(r.Body).Decode(&block); err != nil {
		slog.Warn("Server.updateBlockHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	block.ID = r.PathValue("id")
	if err := block.Validate(); err != nil {
		slog.Warn("Server.updateBlockHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.store.UpdateBlock(r.Context(), &block); err != nil {
		slog.Error("Server.updateBlockHandler: failed to update block", "block", block.ID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update block"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(block))
}

func (s *Server) deleteBlockHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteBlock(r.Context(), id); err != nil {
		slog.Error("Server.deleteBlockHandler: failed to delete block", "block", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete block"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Block deleted", nil))
}
