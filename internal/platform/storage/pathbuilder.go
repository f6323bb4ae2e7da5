package storage

import (
	"fmt"
	"strings"
)

// FrameKey identifies one archived detection frame, stored at
// <prefix>/carts/<cart>/sessions/<session>/<file>.
type FrameKey struct {
	Prefix    string
	CartID    string
	SessionID string
	FileName  string
}

// ObjectName validates every segment and joins them into the bucket object name.
func (k FrameKey) ObjectName() (string, error) {
	prefix, err := cleanPrefix(k.Prefix)
	if err != nil {
		return "", err
	}
	cart, err := cleanSegment("cartID", k.CartID)
	if err != nil {
		return "", err
	}
	session, err := cleanSegment("sessionID", k.SessionID)
	if err != nil {
		return "", err
	}
	file, err := cleanSegment("fileName", k.FileName)
	if err != nil {
		return "", err
	}
	name := "carts/" + cart + "/sessions/" + session + "/" + file
	if prefix != "" {
		name = prefix + "/" + name
	}
	return name, nil
}

func cleanPrefix(prefix string) (string, error) {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return "", nil
	}
	if strings.Contains(prefix, "..") || strings.Contains(prefix, "\\") {
		return "", fmt.Errorf("storage: prefix contains invalid traversal sequence")
	}
	return prefix, nil
}

func cleanSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", fmt.Errorf("storage: %s is required", name)
	case strings.ContainsAny(value, "/\\"):
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	case strings.Contains(value, ".."):
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
