package integration

import (
	"fmt"
	"time"
)

// TestUser generates unique test user credentials using a timestamp.
func TestUser(suffix string) (email, password string) {
	ts := time.Now().UnixNano()
	email = fmt.Sprintf("test-%d-%s@example.com", ts, suffix)
	password = "TestPassword123!"
	return
}
