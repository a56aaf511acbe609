// Package handler содержит HTTP-обработчики API магазина биперов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/beeper-shop-system/internal/middleware"
	"github.com/mmeshcher/beeper-shop-system/internal/model"
	"github.com/mmeshcher/beeper-shop-system/internal/repository"
	"github.com/mmeshcher/beeper-shop-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, username, email, password string) (*model.User, error)
	AuthenticateUser(ctx context.Context, identifier, password string) (*model.User, error)
	AuthenticateOperator(ctx context.Context, username, password string) (*model.Operator, error)
	GetBeeperModels(ctx context.Context) ([]model.BeeperModel, error)
	GetCart(ctx context.Context, userID int64) ([]model.CartItem, error)
	AddToCart(ctx context.Context, userID, modelID int64, quantity int) (*model.CartItem, error)
	UpdateCartItem(ctx context.Context, userID, modelID int64, quantity int) (*model.CartItem, error)
	RemoveFromCart(ctx context.Context, userID, modelID int64) error
	Purchase(ctx context.Context, userID int64) (*service.PurchaseResult, error)
	GetSoldBeepers(ctx context.Context, filter repository.SoldBeeperFilter) ([]model.SoldBeeper, error)
	ActivateBeepers(ctx context.Context, ids []string) (*service.ActivationResult, error)
	GetFavoriteModelIDs(ctx context.Context, operatorID int64) ([]int64, error)
	AddFavorite(ctx context.Context, operatorID, modelID int64) error
	DeleteFavorite(ctx context.Context, operatorID, modelID int64) error
}

// Handler реализует HTTP-обработчики API магазина биперов.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type modelResponse struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	ImageURL    string  `json:"image_url"`
}

func toModelResponse(m model.BeeperModel) modelResponse {
	return modelResponse{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Price:       m.Price,
		ImageURL:    m.ImageURL,
	}
}

// GetModels возвращает каталог моделей биперов. Открытый эндпоинт.
func (h *Handler) GetModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.service.GetBeeperModels(r.Context())
	if err != nil {
		h.logger.Error("get beeper models error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error fetching models.")
		return
	}

	resp := make([]modelResponse, 0, len(models))
	for _, m := range models {
		resp = append(resp, toModelResponse(m))
	}

	writeJSON(w, http.StatusOK, resp)
}

type cartItemResponse struct {
	CartItemID   int64          `json:"cart_item_id"`
	UserID       int64          `json:"user_id"`
	ModelID      int64          `json:"model_id"`
	Quantity     int            `json:"quantity"`
	AddedAt      string         `json:"added_at"`
	ModelDetails *modelResponse `json:"model_details"`
}

func toCartItemResponse(item model.CartItem) cartItemResponse {
	resp := cartItemResponse{
		CartItemID: item.ID,
		UserID:     item.UserID,
		ModelID:    item.ModelID,
		Quantity:   item.Quantity,
		AddedAt:    item.AddedAt.Format(time.RFC3339),
	}
	if item.Model != nil {
		m := toModelResponse(*item.Model)
		resp.ModelDetails = &m
	}
	return resp
}

// GetCart возвращает корзину текущего пользователя.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required.")
		return
	}

	items, err := h.service.GetCart(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("get cart error", zap.Error(err), zap.Int64("userID", user.ID))
		writeError(w, http.StatusInternalServerError, "Failed to fetch cart.")
		return
	}

	resp := make([]cartItemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, toCartItemResponse(item))
	}

	writeJSON(w, http.StatusOK, resp)
}

type addToCartRequest struct {
	ModelID  int64 `json:"model_id"`
	Quantity *int  `json:"quantity"`
}

// AddToCart добавляет модель в корзину текущего пользователя или увеличивает
// количество имеющейся позиции.
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required.")
		return
	}

	var req addToCartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Request body must be JSON.")
		return
	}

	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	if req.ModelID <= 0 || quantity < 1 {
		writeError(w, http.StatusBadRequest, "Invalid 'model_id' (must be int) or 'quantity' (must be positive int).")
		return
	}

	item, err := h.service.AddToCart(r.Context(), user.ID, req.ModelID, quantity)
	if err != nil {
		if errors.Is(err, repository.ErrModelNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Beeper model with id %d not found.", req.ModelID))
			return
		}
		h.logger.Error("add to cart error", zap.Error(err), zap.Int64("userID", user.ID), zap.Int64("modelID", req.ModelID))
		writeError(w, http.StatusInternalServerError, "Failed to add item to cart.")
		return
	}

	writeJSON(w, http.StatusOK, toCartItemResponse(*item))
}

type updateCartItemRequest struct {
	Quantity *int `json:"quantity"`
}

// UpdateCartItem выставляет количество позиции корзины.
// Нулевое количество удаляет позицию.
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required.")
		return
	}

	modelID, err := strconv.ParseInt(chi.URLParam(r, "modelID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid model id.")
		return
	}

	var req updateCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Request body must be JSON.")
		return
	}

	if req.Quantity == nil || *req.Quantity < 0 {
		writeError(w, http.StatusBadRequest, "Invalid 'quantity'. Must be a non-negative integer.")
		return
	}

	item, err := h.service.UpdateCartItem(r.Context(), user.ID, modelID, *req.Quantity)
	if err != nil {
		if errors.Is(err, repository.ErrCartItemNotFound) {
			writeError(w, http.StatusNotFound, "Item not found in cart.")
			return
		}
		h.logger.Error("update cart item error", zap.Error(err), zap.Int64("userID", user.ID), zap.Int64("modelID", modelID))
		writeError(w, http.StatusInternalServerError, "Failed to update cart item quantity.")
		return
	}

	if item == nil {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("Item model %d removed from cart.", modelID),
		})
		return
	}

	writeJSON(w, http.StatusOK, toCartItemResponse(*item))
}

// RemoveFromCart удаляет позицию из корзины текущего пользователя.
func (h *Handler) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required.")
		return
	}

	modelID, err := strconv.ParseInt(chi.URLParam(r, "modelID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid model id.")
		return
	}

	if err := h.service.RemoveFromCart(r.Context(), user.ID, modelID); err != nil {
		if errors.Is(err, repository.ErrCartItemNotFound) {
			writeError(w, http.StatusNotFound, "Item not found in cart.")
			return
		}
		h.logger.Error("remove from cart error", zap.Error(err), zap.Int64("userID", user.ID), zap.Int64("modelID", modelID))
		writeError(w, http.StatusInternalServerError, "Failed to remove item from cart.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Item removed from cart successfully."})
}

// Purchase оформляет покупку содержимого корзины текущего пользователя.
// Повторный вызов не идемпотентен: клиент, не уверенный в исходе предыдущей
// попытки, должен сначала проверить, не опустела ли корзина.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required.")
		return
	}

	res, err := h.service.Purchase(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, repository.ErrEmptyCart) {
			writeError(w, http.StatusBadRequest, "Your cart is empty. Nothing to purchase.")
			return
		}
		h.logger.Error("purchase error", zap.Error(err), zap.Int64("userID", user.ID))
		writeError(w, http.StatusInternalServerError, "Internal server error during purchase processing.")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message":               "Purchase successful! Your beepers are 'on their way'. Cart has been cleared.",
		"items_purchased_count": res.EntriesCleared,
	})
}

type soldBeeperResponse struct {
	ID                string `json:"id"`
	ModelID           int64  `json:"model_id"`
	ModelName         string `json:"model_name"`
	PurchaseTimestamp string `json:"purchase_timestamp"`
	Status            string `json:"status"`
	UserID            int64  `json:"user_id"`
}

// GetSoldBeepers возвращает проданные биперы с необязательной фильтрацией по
// статусу, модели и покупателю.
func (h *Handler) GetSoldBeepers(w http.ResponseWriter, r *http.Request) {
	op, ok := middleware.GetOperatorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Operator authentication required.")
		return
	}

	var filter repository.SoldBeeperFilter

	if v := r.URL.Query().Get("status"); v != "" {
		status := model.SoldBeeperStatus(v)
		filter.Status = &status
	}
	if v := r.URL.Query().Get("model_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid model_id format for filtering.")
			return
		}
		filter.ModelID = &id
	}
	if v := r.URL.Query().Get("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid user_id format for filtering.")
			return
		}
		filter.UserID = &id
	}

	beepers, err := h.service.GetSoldBeepers(r.Context(), filter)
	if err != nil {
		h.logger.Error("get sold beepers error", zap.Error(err), zap.String("operator", op.Username))
		writeError(w, http.StatusInternalServerError, "Internal server error fetching sold beepers.")
		return
	}

	resp := make([]soldBeeperResponse, 0, len(beepers))
	for _, b := range beepers {
		resp = append(resp, soldBeeperResponse{
			ID:                b.ID,
			ModelID:           b.ModelID,
			ModelName:         b.ModelName,
			PurchaseTimestamp: b.PurchaseTimestamp.Format(time.RFC3339),
			Status:            string(b.Status),
			UserID:            b.UserID,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type activateRequest struct {
	BeeperIDs []string `json:"beeper_ids"`
}

type activateResponse struct {
	Message      string   `json:"message"`
	ActivatedIDs []string `json:"activated_ids"`
	Errors       []string `json:"errors"`
}

// ActivateBeepers активирует перечисленные биперы. Частичный успех допустим:
// ошибки по отдельным идентификаторам возвращаются в поле errors.
func (h *Handler) ActivateBeepers(w http.ResponseWriter, r *http.Request) {
	op, ok := middleware.GetOperatorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Operator authentication required.")
		return
	}

	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Request body must be JSON.")
		return
	}

	if req.BeeperIDs == nil {
		writeError(w, http.StatusBadRequest, "Missing or invalid 'beeper_ids' list in request body.")
		return
	}

	if len(req.BeeperIDs) == 0 {
		writeJSON(w, http.StatusOK, activateResponse{
			Message:      "No beeper IDs provided for activation.",
			ActivatedIDs: []string{},
		})
		return
	}

	res, err := h.service.ActivateBeepers(r.Context(), req.BeeperIDs)
	if err != nil {
		h.logger.Error("activate beepers error", zap.Error(err), zap.String("operator", op.Username))
		writeError(w, http.StatusInternalServerError, "Internal server error during activation.")
		return
	}

	activated := res.ActivatedIDs
	if activated == nil {
		activated = []string{}
	}

	msg := fmt.Sprintf("Activation process completed. %d beeper(s) newly activated.", len(activated))
	if len(res.Errors) > 0 {
		msg += fmt.Sprintf(" Encountered %d issue(s).", len(res.Errors))
	}

	writeJSON(w, http.StatusOK, activateResponse{
		Message:      msg,
		ActivatedIDs: activated,
		Errors:       res.Errors,
	})
}

// GetFavorites возвращает идентификаторы избранных моделей текущего оператора.
func (h *Handler) GetFavorites(w http.ResponseWriter, r *http.Request) {
	op, ok := middleware.GetOperatorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Operator authentication required.")
		return
	}

	ids, err := h.service.GetFavoriteModelIDs(r.Context(), op.ID)
	if err != nil {
		h.logger.Error("get favorites error", zap.Error(err), zap.String("operator", op.Username))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusOK, ids)
}

// AddFavorite добавляет модель в избранное текущего оператора.
// Повторное добавление той же модели не является ошибкой.
func (h *Handler) AddFavorite(w http.ResponseWriter, r *http.Request) {
	op, ok := middleware.GetOperatorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Operator authentication required.")
		return
	}

	modelID, err := strconv.ParseInt(chi.URLParam(r, "modelID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid model id.")
		return
	}

	if err := h.service.AddFavorite(r.Context(), op.ID, modelID); err != nil {
		switch {
		case errors.Is(err, repository.ErrModelNotFound):
			writeError(w, http.StatusNotFound, fmt.Sprintf("Beeper model with id %d not found.", modelID))
		case errors.Is(err, repository.ErrFavoriteExists):
			writeJSON(w, http.StatusOK, map[string]string{"message": "Model already in favorites."})
		default:
			h.logger.Error("add favorite error", zap.Error(err), zap.String("operator", op.Username), zap.Int64("modelID", modelID))
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"message": "Model added to favorites."})
}

// DeleteFavorite удаляет модель из избранного текущего оператора.
func (h *Handler) DeleteFavorite(w http.ResponseWriter, r *http.Request) {
	op, ok := middleware.GetOperatorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Operator authentication required.")
		return
	}

	modelID, err := strconv.ParseInt(chi.URLParam(r, "modelID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid model id.")
		return
	}

	if err := h.service.DeleteFavorite(r.Context(), op.ID, modelID); err != nil {
		if errors.Is(err, repository.ErrFavoriteNotFound) {
			writeError(w, http.StatusNotFound, "Favorite not found.")
			return
		}
		h.logger.Error("delete favorite error", zap.Error(err), zap.String("operator", op.Username), zap.Int64("modelID", modelID))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Model removed from favorites."})
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}

// Register регистрирует нового покупателя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Request body must be JSON.")
		return
	}

	if req.Username == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username, email, and password are required.")
		return
	}

	u, err := h.service.RegisterUser(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			writeError(w, http.StatusConflict, "Username or email already exists.")
			return
		}
		h.logger.Error("register user error", zap.Error(err), zap.String("username", req.Username))
		writeError(w, http.StatusInternalServerError, "Registration failed due to an internal error.")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "User registered successfully.",
		"user":    toUserResponse(u),
	})
}

type userLoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// LoginUser выполняет аутентификацию покупателя по имени или почте.
func (h *Handler) LoginUser(w http.ResponseWriter, r *http.Request) {
	var req userLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Request body must be JSON.")
		return
	}

	if req.Identifier == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Identifier (username/email) and password are required.")
		return
	}

	u, err := h.service.AuthenticateUser(r.Context(), req.Identifier, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid credentials.")
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "User login successful.",
		"user":    toUserResponse(u),
		"role":    "user",
	})
}

type operatorLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type operatorResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// LoginOperator выполняет аутентификацию оператора центра управления.
func (h *Handler) LoginOperator(w http.ResponseWriter, r *http.Request) {
	var req operatorLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Request body must be JSON.")
		return
	}

	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required.")
		return
	}

	op, err := h.service.AuthenticateOperator(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid operator credentials.")
			return
		}
		h.logger.Error("login operator error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Operator login successful.",
		"operator": operatorResponse{ID: op.ID, Username: op.Username},
		"role":     "operator",
	})
}
