// Package server provides the HTTP surface for postframe: render endpoints,
// asset delivery with byte ranges, health and metrics. DTOs live here,
// separated from domain types.
package server

// GenerateRequest is the JSON body accepted by POST /api/generate. The GET
// endpoints take the same fields as query parameters.
type GenerateRequest struct {
	// Title is the profile title drawn in bold.
	Title string `json:"title" validate:"max=200"`
	// Handle is the account handle, drawn with a leading "@".
	Handle string `json:"handle" validate:"max=100"`
	// Text is the post body. Newlines start new paragraphs.
	Text string `json:"text" validate:"max=5000"`
	// Avatar is an http(s) URL, a data URI or a path under the static root.
	Avatar string `json:"avatar" validate:"omitempty,max=20971520"`
	// Image is the feature image reference, in the same forms as Avatar.
	Image string `json:"image" validate:"omitempty,max=20971520"`
}

// SaveResponse is returned by GET /api/save.
type SaveResponse struct {
	OK bool `json:"ok"`
	// File is the stored post image name.
	File string `json:"file"`
	// URL is the public URL of the post image.
	URL         string `json:"url"`
	PortraitURL string `json:"portrait_url,omitempty"`
	VideoURL    string `json:"video_url,omitempty"`
	// VideoError explains why no video was produced.
	VideoError       string `json:"video_error,omitempty"`
	EncoderAvailable bool   `json:"encoder_available"`
	// MirrorURL is the object storage copy of the post image, when enabled.
	MirrorURL        string `json:"mirror_url,omitempty"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

// VideoResponse is returned by GET /api/video.
type VideoResponse struct {
	OK               bool   `json:"ok"`
	File             string `json:"file"`
	URL              string `json:"url"`
	PortraitURL      string `json:"portrait_url,omitempty"`
	MirrorURL        string `json:"mirror_url,omitempty"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// EncoderAvailable reports whether video output is possible.
	EncoderAvailable bool `json:"encoder_available"`
}
