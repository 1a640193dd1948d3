package domain

import "errors"

var (
	// ErrValidationFailed — продажа не прошла предварительную проверку входных данных.
	ErrValidationFailed = errors.New("sale validation failed")
	// ErrReferenceNotFound — позиция продажи ссылается на несуществующий товар.
	ErrReferenceNotFound = errors.New("referenced product not found")
	// ErrRegistrationFailed — регистрация продажи не удалась, транзакция откатана.
	ErrRegistrationFailed = errors.New("sale registration failed")
	// ErrRegistrationTimeout — регистрация не уложилась в отведённое время.
	ErrRegistrationTimeout = errors.New("sale registration timed out")
	// ErrInsufficientStock — остатка товара не хватает для списания.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrCounterMissing — в хранилище нет строки счётчика номеров документов.
	ErrCounterMissing = errors.New("document counter row is missing")

	// Ошибка отсутствия хотя бы одной позиции в продаже.
	ErrItemsRequired = errors.New("sale must contain at least one item")
	// Ошибка при некорректном количестве товара (<= 0 или сверх MaxItemQuantity).
	ErrItemQtyInvalid = errors.New("item quantity is out of range")
	// Ошибка, если цена позиции отрицательная или точнее копеек.
	ErrItemPriceInvalid = errors.New("item unit price must be non-negative with at most 2 decimal places")
	// Ошибка некорректного идентификатора товара в позиции.
	ErrProductIDInvalid = errors.New("item product_id must be positive")
	// Ошибка несоответствия итоговой суммы и суммы позиций.
	ErrTotalMismatch = errors.New("sale total does not match items sum")

	// ErrSaleNotFound возвращается, если продажа не найдена.
	ErrSaleNotFound = errors.New("sale not found")
	// ErrProductNotFound возвращается при чтении несуществующего товара.
	ErrProductNotFound = errors.New("product not found")

	// ErrIdempotencyKeyRequired — ключ идемпотентности не передан.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — не удалось посчитать hash запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — запрос с таким ключом уже принят.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ уже использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key is used with different request")
	// ErrIdempotencyKeyNotFound — запись идемпотентности не найдена.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")

	// ErrOutboxPublish — ошибка при публикации или обновлении сообщения outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsRegistrationFailure проверяет, что ошибка пришла из транзакции регистрации.
func IsRegistrationFailure(err error) bool {
	return errors.Is(err, ErrRegistrationFailed)
}

// IsIdempotencyConflict проверяет конфликт ключа идемпотентности.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
