package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
)

type errorResponse struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func writeJSONResponse(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)

	if payload == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "Unable to encode payload!", http.StatusUnprocessableEntity)
		log.Println("Unable to encode payload!")
	}
}

func decodeJSON(body io.ReadCloser, data interface{}) error {
	dec := json.NewDecoder(body)
	if err := dec.Decode(&data); err != nil {
		return errors.New("Request body includes malformed json")
	}

	v := validator.New()
	if err := v.Struct(data); err != nil {
		for _, e := range err.(validator.ValidationErrors) {
			log.Println(e)
		}
		return errors.New("Request body is missing required fields")
	} else if dec.More() {
		return errors.New("Request body must only contain one json object")
	}

	return nil
}

func getPaginationParams(req *http.Request) (int, int) {
	offset := parseIntQueryParam(req, "offset", 0)
	limit := parseIntQueryParam(req, "limit", 50)

	if offset < 0 {
		offset = 0
	}

	if limit < 1 || limit > 100 {
		limit = 50
	}

	return offset, limit
}

func parseIntQueryParam(req *http.Request, name string, defaultValue int) int {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}

	return value
}
