// Package telegram проверяет подлинность данных запуска Telegram Mini App.
package telegram

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

	"github.com/mmeshcher/water-delivery-system/internal/apperr"
)

// Telegram подписывает данные запуска ключом HMAC-SHA256("WebAppData", botToken).
const secretKeySalt = "WebAppData"

// Данные запуска старше суток считаются просроченными.
const maxInitDataAge = 86400

// WebAppUser описывает пользователя из поля user данных запуска.
type WebAppUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// Validate проверяет подпись и свежесть данных запуска мини-приложения
// и возвращает разобранные поля без hash.
func Validate(initData, botToken string, now time.Time) (map[string]string, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("%w: parse init data: %v", apperr.ErrValidation, err)
	}

	hash := values.Get("hash")
	if hash == "" {
		return nil, fmt.Errorf("%w: init data has no hash", apperr.ErrValidation)
	}
	values.Del("hash")

	lines := make([]string, 0, len(values))
	for key := range values {
		lines = append(lines, key+"="+values.Get(key))
	}
	sort.Strings(lines)
	checkString := strings.Join(lines, "\n")

	keyMAC := hmac.New(sha256.New, []byte(secretKeySalt))
	keyMAC.Write([]byte(botToken))
	secretKey := keyMAC.Sum(nil)

	mac := hmac.New(sha256.New, secretKey)
	mac.Write([]byte(checkString))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(hash)) {
		return nil, fmt.Errorf("%w: init data signature mismatch", apperr.ErrAuthentication)
	}

	if authDate := values.Get("auth_date"); authDate != "" {
		ts, err := strconv.ParseInt(authDate, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad auth_date: %v", apperr.ErrValidation, err)
		}
		if ts != 0 && now.Unix()-ts > maxInitDataAge {
			return nil, fmt.Errorf("%w: init data expired", apperr.ErrAuthentication)
		}
	}

	fields := make(map[string]string, len(values))
	for key := range values {
		fields[key] = values.Get(key)
	}

	return fields, nil
}

// ParseUser извлекает пользователя из поля user данных запуска.
func ParseUser(fields map[string]string) (*WebAppUser, error) {
	raw, ok := fields["user"]
	if !ok || raw == "" {
		return nil, fmt.Errorf("%w: init data has no user", apperr.ErrValidation)
	}

	var u WebAppUser
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("%w: decode user: %v", apperr.ErrValidation, err)
	}
	if u.ID == 0 {
		return nil, fmt.Errorf("%w: user id is empty", apperr.ErrValidation)
	}

	return &u, nil
}
