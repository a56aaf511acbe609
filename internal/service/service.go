// Package service реализует бизнес-логику магазина биперов.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmeshcher/beeper-shop-system/internal/hasher"
	"github.com/mmeshcher/beeper-shop-system/internal/model"
	"github.com/mmeshcher/beeper-shop-system/internal/repository"
)

// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, username, email, passwordHash string) (*model.User, error)
	GetUserByIdentifier(ctx context.Context, identifier string) (*model.User, error)
	CreateOperator(ctx context.Context, username, passwordHash string) (int64, error)
	GetOperatorByUsername(ctx context.Context, username string) (*model.Operator, error)
	CountOperators(ctx context.Context) (int64, error)
	CreateBeeperModel(ctx context.Context, m model.BeeperModel) (int64, error)
	GetBeeperModels(ctx context.Context) ([]model.BeeperModel, error)
	GetBeeperModelByID(ctx context.Context, id int64) (*model.BeeperModel, error)
	CountBeeperModels(ctx context.Context) (int64, error)
	GetCartItems(ctx context.Context, userID int64) ([]model.CartItem, error)
	AddToCart(ctx context.Context, userID, modelID int64, quantity int) (*model.CartItem, error)
	SetCartItemQuantity(ctx context.Context, userID, modelID int64, quantity int) (*model.CartItem, error)
	RemoveFromCart(ctx context.Context, userID, modelID int64) error
	PurchaseCart(ctx context.Context, userID int64) ([]string, int, error)
	GetSoldBeepers(ctx context.Context, filter repository.SoldBeeperFilter) ([]model.SoldBeeper, error)
	GetSoldBeeperStatuses(ctx context.Context, ids []string) (map[string]model.SoldBeeperStatus, error)
	MarkActivated(ctx context.Context, ids []string) error
	GetFavoriteModelIDs(ctx context.Context, operatorID int64) ([]int64, error)
	AddFavorite(ctx context.Context, operatorID, modelID int64) error
	DeleteFavorite(ctx context.Context, operatorID, modelID int64) error
}

// Service содержит бизнес-логику магазина биперов.
type Service struct {
	repo   Repository
	hasher hasher.Hasher
}

// NewService создаёт новый сервис с указанным репозиторием и хешером паролей.
func NewService(repo Repository, h hasher.Hasher) *Service {
	return &Service{
		repo:   repo,
		hasher: h,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового покупателя.
func (s *Service) RegisterUser(ctx context.Context, username, email, password string) (*model.User, error) {
	digest, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return s.repo.CreateUser(ctx, username, email, digest)
}

// AuthenticateUser проверяет пару логин/пароль покупателя. В качестве логина
// принимается имя пользователя или почта.
func (s *Service) AuthenticateUser(ctx context.Context, identifier, password string) (*model.User, error) {
	u, err := s.repo.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !s.hasher.Verify(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

// AuthenticateOperator проверяет пару логин/пароль оператора.
func (s *Service) AuthenticateOperator(ctx context.Context, username, password string) (*model.Operator, error) {
	op, err := s.repo.GetOperatorByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrOperatorNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !s.hasher.Verify(op.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	return op, nil
}

// GetBeeperModels возвращает каталог моделей.
func (s *Service) GetBeeperModels(ctx context.Context) ([]model.BeeperModel, error) {
	return s.repo.GetBeeperModels(ctx)
}

// GetCart возвращает корзину пользователя.
func (s *Service) GetCart(ctx context.Context, userID int64) ([]model.CartItem, error) {
	return s.repo.GetCartItems(ctx, userID)
}

// AddToCart добавляет модель в корзину пользователя или увеличивает количество
// уже имеющейся позиции.
func (s *Service) AddToCart(ctx context.Context, userID, modelID int64, quantity int) (*model.CartItem, error) {
	if _, err := s.repo.GetBeeperModelByID(ctx, modelID); err != nil {
		return nil, err
	}
	return s.repo.AddToCart(ctx, userID, modelID, quantity)
}

// UpdateCartItem выставляет количество позиции корзины.
// Нулевое количество удаляет позицию, в этом случае возвращается nil.
func (s *Service) UpdateCartItem(ctx context.Context, userID, modelID int64, quantity int) (*model.CartItem, error) {
	if quantity == 0 {
		if err := s.repo.RemoveFromCart(ctx, userID, modelID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return s.repo.SetCartItemQuantity(ctx, userID, modelID, quantity)
}

// RemoveFromCart удаляет позицию из корзины пользователя.
func (s *Service) RemoveFromCart(ctx context.Context, userID, modelID int64) error {
	return s.repo.RemoveFromCart(ctx, userID, modelID)
}

// PurchaseResult описывает результат оформления покупки.
type PurchaseResult struct {
	SoldBeeperIDs  []string
	EntriesCleared int
}

// Purchase оформляет покупку содержимого корзины пользователя. Создание записей
// о проданных биперах и очистка корзины выполняются в одной транзакции.
// Операция не идемпотентна: повторный вызов с непустой корзиной создаст новую
// партию проданных биперов.
func (s *Service) Purchase(ctx context.Context, userID int64) (*PurchaseResult, error) {
	ids, entries, err := s.repo.PurchaseCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &PurchaseResult{SoldBeeperIDs: ids, EntriesCleared: entries}, nil
}

// GetSoldBeepers возвращает проданные биперы с учётом фильтров.
func (s *Service) GetSoldBeepers(ctx context.Context, filter repository.SoldBeeperFilter) ([]model.SoldBeeper, error) {
	return s.repo.GetSoldBeepers(ctx, filter)
}

// ActivationResult описывает итог пакетной активации: какие биперы активированы
// и какие идентификаторы не удалось обработать.
type ActivationResult struct {
	ActivatedIDs []string
	Errors       []string
}

// ActivateBeepers активирует перечисленные биперы. Статусы считываются одной
// выборкой, затем для каждого идентификатора в порядке запроса принимается
// решение. Частичный успех допустим: ошибки по отдельным биперам собираются в
// результат, а успешные переходы фиксируются вместе одной транзакцией. Если ни
// один бипер не активирован, запись в хранилище не выполняется.
func (s *Service) ActivateBeepers(ctx context.Context, ids []string) (*ActivationResult, error) {
	res := &ActivationResult{}
	if len(ids) == 0 {
		return res, nil
	}

	statuses, err := s.repo.GetSoldBeeperStatuses(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		status, ok := statuses[id]
		switch {
		case !ok:
			res.Errors = append(res.Errors, fmt.Sprintf("Beeper with id %s not found.", id))
		case status == model.SoldBeeperStatusActivated:
			res.Errors = append(res.Errors, fmt.Sprintf("Beeper with id %s is already activated.", id))
		case status == model.SoldBeeperStatusActive:
			res.ActivatedIDs = append(res.ActivatedIDs, id)
			// Повтор того же идентификатора в этом же запросе получит "already activated".
			statuses[id] = model.SoldBeeperStatusActivated
		default:
			res.Errors = append(res.Errors, fmt.Sprintf("Beeper with id %s has an unexpected status: %s.", id, status))
		}
	}

	if len(res.ActivatedIDs) > 0 {
		if err := s.repo.MarkActivated(ctx, res.ActivatedIDs); err != nil {
			return nil, err
		}
	}

	return res, nil
}

// GetFavoriteModelIDs возвращает идентификаторы избранных моделей оператора.
func (s *Service) GetFavoriteModelIDs(ctx context.Context, operatorID int64) ([]int64, error) {
	return s.repo.GetFavoriteModelIDs(ctx, operatorID)
}

// AddFavorite добавляет модель в избранное оператора.
func (s *Service) AddFavorite(ctx context.Context, operatorID, modelID int64) error {
	if _, err := s.repo.GetBeeperModelByID(ctx, modelID); err != nil {
		return err
	}
	return s.repo.AddFavorite(ctx, operatorID, modelID)
}

// DeleteFavorite удаляет модель из избранного оператора.
func (s *Service) DeleteFavorite(ctx context.Context, operatorID, modelID int64) error {
	return s.repo.DeleteFavorite(ctx, operatorID, modelID)
}

// defaultOperatorUsername и defaultOperatorPassword — учётная запись оператора,
// создаваемая при первом запуске на пустой базе.
const (
	defaultOperatorUsername = "admin"
	defaultOperatorPassword = "op_password123"
)

var seedModels = []model.BeeperModel{
	{
		Name:        "PagerOne Basic",
		Description: "The reliable classic for everyday use. Features basic alphanumeric display and vibration alerts.",
		Price:       49.99,
		ImageURL:    "https://placehold.co/400x300/A0522D/FFFFFF?text=PagerOne&font=roboto",
	},
	{
		Name:        "PagerX Pro",
		Description: "Advanced features, robust encryption, and extended signal range. Ideal for professionals.",
		Price:       99.99,
		ImageURL:    "https://placehold.co/400x300/1E90FF/FFFFFF?text=PagerX+Pro&font=roboto",
	},
	{
		Name:        "StealthPager Mini",
		Description: "Compact and discreet design with silent mode and subtle notifications. Perfect for covert operations.",
		Price:       75.50,
		ImageURL:    "https://placehold.co/400x300/2F4F4F/FFFFFF?text=StealthMini&font=roboto",
	},
	{
		Name:        "RuggedPager 5000",
		Description: "Waterproof (IP68), shock-resistant, and built for extreme field conditions. Long battery life.",
		Price:       120.00,
		ImageURL:    "https://placehold.co/400x300/FF8C00/000000?text=Rugged5000&font=roboto",
	},
	{
		Name:        "MediPager Alert+",
		Description: "Specifically designed for medical emergency notifications with priority channels and easy-to-use interface.",
		Price:       85.00,
		ImageURL:    "https://placehold.co/400x300/DC143C/FFFFFF?text=MediAlert+&font=roboto",
	},
	{
		Name:        "CommandoBeep Tactical",
		Description: "Military-grade beeper with encrypted comms and GPS location ping (simulated).",
		Price:       150.00,
		ImageURL:    "https://placehold.co/400x300/006400/FFFFFF?text=CommandoBeep&font=roboto",
	},
}

// SeedInitialData наполняет пустую базу стартовыми данными: оператором по
// умолчанию и демонстрационными моделями биперов. Повторные запуски ничего не
// изменяют.
func (s *Service) SeedInitialData(ctx context.Context) error {
	opCount, err := s.repo.CountOperators(ctx)
	if err != nil {
		return err
	}
	if opCount == 0 {
		digest, err := s.hasher.Hash(defaultOperatorPassword)
		if err != nil {
			return fmt.Errorf("hash default operator password: %w", err)
		}
		if _, err := s.repo.CreateOperator(ctx, defaultOperatorUsername, digest); err != nil {
			return err
		}
	}

	modelCount, err := s.repo.CountBeeperModels(ctx)
	if err != nil {
		return err
	}
	if modelCount == 0 {
		for _, m := range seedModels {
			if _, err := s.repo.CreateBeeperModel(ctx, m); err != nil {
				return err
			}
		}
	}

	return nil
}
