package handlers

import (
	"net/http"

	pkghttp "github.com/quillsend/quillsend/pkg/http"
)

// Thin wrappers so handler bodies stay terse.

func writeOK(w http.ResponseWriter, body any) {
	pkghttp.WriteJSON(w, http.StatusOK, body)
}

func httpBadRequest(w http.ResponseWriter, message string) {
	pkghttp.WriteBadRequest(w, message)
}

func httpUnauthorized(w http.ResponseWriter) {
	pkghttp.WriteUnauthorized(w, "unauthorized")
}

func httpForbidden(w http.ResponseWriter) {
	pkghttp.WriteForbidden(w, "Forbidden: you cannot access this resource")
}

func httpNotFound(w http.ResponseWriter, message string) {
	pkghttp.WriteNotFound(w, message)
}

func httpServiceUnavailable(w http.ResponseWriter) {
	pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
}

func httpInternalError(w http.ResponseWriter) {
	pkghttp.WriteInternalError(w, "Internal server error")
}
