package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// initDataSecretKey is the constant key Telegram prescribes for deriving
// the Mini App signature secret from the bot token.
const initDataSecretKey = "WebAppData"

// InitDataUser is the user object embedded in Mini App init data.
type InitDataUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Username     string `json:"username"`
	LanguageCode string `json:"language_code"`
}

// InitData is the verified payload the Telegram client passes to the
// mini app on launch.
type InitData struct {
	User     InitDataUser
	AuthDate time.Time
	QueryID  string
}

// VerifyInitData checks the HMAC signature of a raw init data query
// string against the bot token and returns the parsed payload. Data
// older than ttl is rejected; a zero ttl disables the freshness check.
func VerifyInitData(raw, botToken string, ttl time.Duration) (*InitData, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed query string", ErrInvalidInitData)
	}

	gotHash := values.Get("hash")
	if gotHash == "" {
		return nil, fmt.Errorf("%w: missing hash", ErrInvalidInitData)
	}

	// Data-check-string: every field except hash, sorted by key,
	// joined as key=value lines.
	pairs := make([]string, 0, len(values))
	for key := range values {
		if key == "hash" {
			continue
		}
		pairs = append(pairs, key+"="+values.Get(key))
	}
	sort.Strings(pairs)
	checkString := strings.Join(pairs, "\n")

	secret := hmac.New(sha256.New, []byte(initDataSecretKey))
	secret.Write([]byte(botToken))

	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(checkString))
	wantHash := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(gotHash), []byte(wantHash)) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidInitData)
	}

	authDateUnix, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad auth_date", ErrInvalidInitData)
	}
	authDate := time.Unix(authDateUnix, 0)

	if ttl > 0 && time.Since(authDate) > ttl {
		return nil, ErrInitDataExpired
	}

	var user InitDataUser
	if userJSON := values.Get("user"); userJSON != "" {
		if err := json.Unmarshal([]byte(userJSON), &user); err != nil {
			return nil, fmt.Errorf("%w: bad user payload", ErrInvalidInitData)
		}
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("%w: missing user", ErrInvalidInitData)
	}

	return &InitData{
		User:     user,
		AuthDate: authDate,
		QueryID:  values.Get("query_id"),
	}, nil
}
