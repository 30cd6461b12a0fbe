package service

import (
	"net/mail"
	"net/url"
	"strings"
	"unicode/utf8"
)

// normalizeEmail 返回小写的纯地址；不合法返回 ValidationError
func normalizeEmail(field, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", invalid(field, "is required")
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw || len(raw) > 254 {
		return "", invalid(field, "must be a valid e-mail address")
	}
	return strings.ToLower(addr.Address), nil
}

// requireLength 按字符数（非字节）校验，返回去除首尾空白后的值
func requireLength(field, raw string, min, max int) (string, error) {
	v := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(v)
	if n < min {
		if min <= 1 {
			return "", invalid(field, "is required")
		}
		return "", invalid(field, "must be at least %d characters", min)
	}
	if n > max {
		return "", invalid(field, "must be at most %d characters", max)
	}
	return v, nil
}

// optionalURL 空串合法；否则必须是 http(s) 绝对地址
func optionalURL(field, raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", nil
	}
	u, err := url.Parse(v)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || len(v) > 2048 {
		return "", invalid(field, "must be an http(s) URL")
	}
	return v, nil
}

func optionalPhone(field, raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", nil
	}
	if len(v) > 40 {
		return "", invalid(field, "must be at most 40 characters")
	}
	digits := 0
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case strings.ContainsRune("+-() .", r):
		default:
			return "", invalid(field, "contains invalid characters")
		}
	}
	if digits < 6 {
		return "", invalid(field, "must contain at least 6 digits")
	}
	return v, nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return invalid(field, "must be one of %s", strings.Join(allowed, ", "))
}
