package domain

import (
	"strconv"
	"strings"
	"time"
)

// DefaultDocumentNumberWidth — ширина номера документа по умолчанию.
const DefaultDocumentNumberWidth = 4

// DocumentCounter — единственная строка счётчика номеров продаж.
type DocumentCounter struct {
	LastNumber    int64
	LastUpdatedAt time.Time
}

// Advance увеличивает счётчик на единицу и возвращает новое значение.
func (c *DocumentCounter) Advance(now time.Time) int64 {
	c.LastNumber++
	c.LastUpdatedAt = now
	return c.LastNumber
}

// FormatDocumentNumber дополняет номер нулями слева до width символов.
// Если число длиннее width, остаются только правые width цифр: 12345 -> "2345".
func FormatDocumentNumber(n int64, width int) string {
	if width <= 0 {
		width = DefaultDocumentNumberWidth
	}
	digits := strconv.FormatInt(n, 10)
	padded := strings.Repeat("0", width) + digits
	return padded[len(padded)-width:]
}

// DocumentNumberWraps сообщает, теряет ли форматирование старшие цифры.
func DocumentNumberWraps(n int64, width int) bool {
	if width <= 0 {
		width = DefaultDocumentNumberWidth
	}
	return len(strconv.FormatInt(n, 10)) > width
}
