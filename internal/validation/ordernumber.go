// Package validation содержит функции генерации и валидации номеров заказов.
package validation

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"
)

const (
	orderNumberPrefix = "ORD"
	suffixDigits      = 6
)

var suffixSpace = big.NewInt(1_000_000)

// NewOrderNumber формирует номер заказа вида ORD-<год>-<6 случайных цифр>.
// Уникальность не гарантируется, коллизию отлавливает ограничение в БД.
func NewOrderNumber(now time.Time, random io.Reader) (string, error) {
	if random == nil {
		random = rand.Reader
	}

	n, err := rand.Int(random, suffixSpace)
	if err != nil {
		return "", fmt.Errorf("generate order number: %w", err)
	}

	return fmt.Sprintf("%s-%04d-%0*d", orderNumberPrefix, now.Year(), suffixDigits, n.Int64()), nil
}

// IsValidOrderNumber проверяет формат номера заказа.
func IsValidOrderNumber(number string) bool {
	parts := strings.Split(number, "-")
	if len(parts) != 3 || parts[0] != orderNumberPrefix {
		return false
	}

	return allDigits(parts[1], 4) && allDigits(parts[2], suffixDigits)
}

func allDigits(s string, length int) bool {
	if len(s) != length {
		return false
	}
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}
