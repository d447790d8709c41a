package validation

import (
	"fmt"
	"net/url"
	"regexp"
)

// RoomIDRegex validates room ID format
var RoomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// ValidateRoomID validates room ID
func ValidateRoomID(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room ID is required")
	}
	if len(roomID) > 100 {
		return fmt.Errorf("room ID is too long (max 100 characters)")
	}
	if !RoomIDRegex.MatchString(roomID) {
		return fmt.Errorf("invalid room ID format")
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateSignalingURL validates the signaling server URL (ws or wss only)
func ValidateSignalingURL(urlStr string) error {
	if err := ValidateURL(urlStr); err != nil {
		return err
	}
	u, _ := url.Parse(urlStr)
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("signaling URL must use ws or wss")
	}
	if u.RawQuery != "" {
		return fmt.Errorf("signaling URL must not carry a query string")
	}
	return nil
}

// ValidateCamera validates the camera tag
func ValidateCamera(camera string) error {
	validCameras := map[string]bool{
		"front":    true,
		"back":     true,
		"left":     true,
		"right":    true,
		"combined": true,
	}
	if !validCameras[camera] {
		return fmt.Errorf("invalid camera (must be front, back, left, right, or combined)")
	}
	return nil
}
