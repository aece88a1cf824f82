package domain

import "errors"

// Доменные ошибки checkout-ядра.
// Используются для передачи бизнес-ошибок между слоями приложения:
// репозитории и сервисы возвращают их как есть, HTTP-слой отображает
// в коды ответов через errors.Is.

// Ошибки заказов.
var (
	// ErrOrderNotFound возвращается, когда заказ не найден в базе данных.
	ErrOrderNotFound = errors.New("заказ не найден")

	// ErrOrderAccessDenied возвращается, когда заказ принадлежит другому пользователю.
	// Наружу отображается так же, как ErrOrderNotFound, чтобы не раскрывать
	// существование чужих заказов.
	ErrOrderAccessDenied = errors.New("заказ принадлежит другому пользователю")

	// ErrOrderNotPayable возвращается при попытке оплатить заказ,
	// который уже отменён или возвращён.
	ErrOrderNotPayable = errors.New("заказ нельзя оплатить в текущем статусе")

	// ErrOrderNotCancelable возвращается при попытке отменить заказ
	// в неподходящем статусе.
	ErrOrderNotCancelable = errors.New("заказ нельзя отменить в текущем статусе")

	// ErrAmountMismatch возвращается, когда сумма подтверждения не совпадает
	// с суммой заказа. Платёж в этом случае не подтверждается.
	ErrAmountMismatch = errors.New("сумма платежа не совпадает с суммой заказа")

	// ErrInvalidUserID возвращается при пустом или некорректном идентификаторе пользователя.
	ErrInvalidUserID = errors.New("некорректный идентификатор пользователя")

	// ErrEmptyOrderItems возвращается при попытке создать заказ без позиций.
	ErrEmptyOrderItems = errors.New("заказ должен содержать хотя бы одну позицию")

	// ErrInvalidProductID возвращается при пустом или некорректном идентификаторе товара.
	ErrInvalidProductID = errors.New("некорректный идентификатор товара")

	// ErrInvalidProductName возвращается при пустом названии товара.
	ErrInvalidProductName = errors.New("название товара не может быть пустым")

	// ErrInvalidQuantity возвращается, когда количество товара меньше или равно нулю.
	ErrInvalidQuantity = errors.New("количество должно быть больше нуля")

	// ErrInvalidPrice возвращается, когда цена товара меньше или равна нулю.
	ErrInvalidPrice = errors.New("цена должна быть больше нуля")
)

// Ошибки платежей.
var (
	// ErrPaymentNotFound — платёж не найден.
	ErrPaymentNotFound = errors.New("платёж не найден")

	// ErrDuplicatePayment — платёж с таким payment_key уже зафиксирован.
	ErrDuplicatePayment = errors.New("платёж с таким ключом уже существует")

	// ErrPaymentKeyReuse — payment_key уже использован для другого заказа.
	ErrPaymentKeyReuse = errors.New("ключ платежа уже использован для другого заказа")

	// ErrInvalidOrderID — пустой идентификатор заказа в платеже.
	ErrInvalidOrderID = errors.New("некорректный идентификатор заказа")

	// ErrInvalidPaymentKey — пустой ключ платежа.
	ErrInvalidPaymentKey = errors.New("ключ платежа не может быть пустым")

	// ErrInvalidAmount — некорректная сумма платежа.
	ErrInvalidAmount = errors.New("сумма платежа должна быть больше нуля")

	// ErrInvalidCurrency — пустая валюта платежа.
	ErrInvalidCurrency = errors.New("валюта платежа не может быть пустой")
)

// Ошибки остатков.
var (
	// ErrVariantNotFound — вариант товара не найден.
	ErrVariantNotFound = errors.New("вариант товара не найден")

	// ErrInsufficientStock — остатка недостаточно для списания.
	ErrInsufficientStock = errors.New("недостаточно остатка для списания")
)
