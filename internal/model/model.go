// Package model содержит доменные сущности магазина биперов.
package model

import "time"

// BeeperModel представляет модель бипера, доступную в магазине.
type BeeperModel struct {
	ID          int64
	Name        string
	Description string
	Price       float64
	ImageURL    string
}

// User представляет зарегистрированного покупателя магазина.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Operator представляет оператора центра управления.
type Operator struct {
	ID           int64
	Username     string
	PasswordHash string
}

// CartItem описывает позицию корзины пользователя: модель и количество.
type CartItem struct {
	ID       int64
	UserID   int64
	ModelID  int64
	Quantity int
	AddedAt  time.Time
	// Model заполняется при выборке корзины соединением с beeper_models.
	Model *BeeperModel
}

// SoldBeeperStatus описывает статус проданного бипера.
type SoldBeeperStatus string

const (
	// SoldBeeperStatusActive — бипер продан, но ещё не активирован оператором.
	SoldBeeperStatusActive SoldBeeperStatus = "active"
	// SoldBeeperStatusActivated — бипер активирован; обратный переход невозможен.
	SoldBeeperStatusActivated SoldBeeperStatus = "activated"
)

// SoldBeeper описывает отдельный проданный бипер. Идентификатор — UUID,
// присваивается один раз при покупке и не меняется.
type SoldBeeper struct {
	ID                string
	ModelID           int64
	ModelName         string
	UserID            int64
	PurchaseTimestamp time.Time
	Status            SoldBeeperStatus
}
