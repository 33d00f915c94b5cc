package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mmeshcher/water-delivery-system/internal/apperr"
)

const testBotToken = "1234567890:TEST-bot-token"

func signInitData(t *testing.T, botToken string, fields map[string]string) string {
	t.Helper()

	lines := make([]string, 0, len(fields))
	for k, v := range fields {
		lines = append(lines, k+"="+v)
	}
	sort.Strings(lines)
	checkString := strings.Join(lines, "\n")

	keyMAC := hmac.New(sha256.New, []byte("WebAppData"))
	keyMAC.Write([]byte(botToken))
	secretKey := keyMAC.Sum(nil)

	mac := hmac.New(sha256.New, secretKey)
	mac.Write([]byte(checkString))
	hash := hex.EncodeToString(mac.Sum(nil))

	values := url.Values{}
	for k, v := range fields {
		values.Set(k, v)
	}
	values.Set("hash", hash)

	return values.Encode()
}

func TestValidate_Success(t *testing.T) {
	now := time.Now()
	fields := map[string]string{
		"query_id":  "AAF3Yp0bAAAAAHdinRtM",
		"user":      `{"id":42,"first_name":"Ivan","last_name":"Petrov"}`,
		"auth_date": strconv.FormatInt(now.Unix(), 10),
	}

	initData := signInitData(t, testBotToken, fields)

	got, err := Validate(initData, testBotToken, now)
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}

	if _, ok := got["hash"]; ok {
		t.Fatalf("hash must be stripped from the result")
	}
	for k, v := range fields {
		if got[k] != v {
			t.Fatalf("field %q = %q, want %q", k, got[k], v)
		}
	}
}

func TestValidate_TamperedField(t *testing.T) {
	now := time.Now()
	fields := map[string]string{
		"user":      `{"id":42,"first_name":"Ivan"}`,
		"auth_date": strconv.FormatInt(now.Unix(), 10),
	}

	initData := signInitData(t, testBotToken, fields)

	// Меняем один символ подписанного значения, подпись остаётся прежней.
	tampered := strings.Replace(initData, "Ivan", "Iwan", 1)
	if tampered == initData {
		t.Fatalf("test did not tamper the payload")
	}

	_, err := Validate(tampered, testBotToken, now)
	if !errors.Is(err, apperr.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestValidate_WrongBotToken(t *testing.T) {
	now := time.Now()
	initData := signInitData(t, testBotToken, map[string]string{
		"user": `{"id":42}`,
	})

	_, err := Validate(initData, "другой-токен", now)
	if !errors.Is(err, apperr.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestValidate_MissingHash(t *testing.T) {
	_, err := Validate("user=%7B%22id%22%3A42%7D&auth_date=100", testBotToken, time.Now())
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestValidate_AuthDateBoundary(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name    string
		age     int64
		wantErr bool
	}{
		{name: "exactly 86400 seconds old", age: 86400, wantErr: false},
		{name: "86401 seconds old", age: 86401, wantErr: true},
		{name: "fresh", age: 10, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			initData := signInitData(t, testBotToken, map[string]string{
				"user":      `{"id":42}`,
				"auth_date": strconv.FormatInt(now.Unix()-tt.age, 10),
			})

			_, err := Validate(initData, testBotToken, now)
			if tt.wantErr {
				if !errors.Is(err, apperr.ErrAuthentication) {
					t.Fatalf("expected ErrAuthentication, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate error: %v", err)
			}
		})
	}
}

func TestParseUser(t *testing.T) {
	user, err := ParseUser(map[string]string{
		"user": `{"id":42,"first_name":"Ivan","last_name":"Petrov","username":"ivan"}`,
	})
	if err != nil {
		t.Fatalf("ParseUser error: %v", err)
	}
	if user.ID != 42 || user.FirstName != "Ivan" || user.LastName != "Petrov" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestParseUser_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
	}{
		{name: "missing user", fields: map[string]string{"auth_date": "100"}},
		{name: "malformed json", fields: map[string]string{"user": "{broken"}},
		{name: "zero id", fields: map[string]string{"user": `{"id":0}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseUser(tt.fields)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}
