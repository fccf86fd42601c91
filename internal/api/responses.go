package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"adminchat/pkg/types"
)

type listResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Count   int         `json:"count"`
}

type dataResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

type countResponse struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
}

type markReadResponse struct {
	Success       bool  `json:"success"`
	ModifiedCount int64 `json:"modifiedCount"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type healthResponse struct {
	Status       string    `json:"status"`
	Database     string    `json:"database"`
	Participants int       `json:"participants"`
	Timestamp    time.Time `json:"timestamp"`
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encoding response: %v", err)
	}
}

func respondList(w http.ResponseWriter, messages []*types.ChatMessage) {
	if messages == nil {
		messages = []*types.ChatMessage{}
	}
	respondJSON(w, http.StatusOK, listResponse{Success: true, Data: messages, Count: len(messages)})
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Success: false, Error: message})
}
