package nakama

import (
	"fmt"
	"time"

	jwt "github.com/form3tech-oss/jwt-go"
)

// Session credentials give every player a stable identity independent of
// their display name, so reconnect matching never collides on duplicate
// usernames. A credential is minted at first join, sent privately to the
// player, and presented in the join metadata on reconnect.

// mintCredential signs a token binding the stable session id to the room.
func mintCredential(secret, roomCode, sessionID string) (string, error) {
	claims := jwt.MapClaims{
		"sub":  sessionID,
		"room": roomCode,
		"iat":  time.Now().Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// verifyCredential validates a presented token and returns the stable
// session id it carries. Tokens for other rooms are rejected.
func verifyCredential(secret, roomCode, token string) (string, bool) {
	if token == "" {
		return "", false
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid {
		return "", false
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", false
	}
	if room, _ := claims["room"].(string); room != roomCode {
		return "", false
	}
	sessionID, _ := claims["sub"].(string)
	return sessionID, sessionID != ""
}
