// internal/service/order/interfaces/http_handler.go
package interfaces

import (
	"encoding/json"
	"net/http"
	"strconv"

	"bazaar/internal/pkg/logger"
	idemapp "bazaar/internal/service/idempotency/application"
	idemdomain "bazaar/internal/service/idempotency/domain"
	invapp "bazaar/internal/service/inventory/application"
	"bazaar/internal/service/order/application"
	sagaapp "bazaar/internal/service/payment/application/saga"
	paymentdomain "bazaar/internal/service/payment/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const serviceName = "order-service"

const requestTypeSubmitPayment = "SUBMIT_PAYMENT"

// OrderHandler 封装了订单与支付的 HTTP 处理器。
// 支付提交经过幂等防护：同一个 Idempotency-Key 的重复请求
// 要么拿到逐字节相同的首次响应，要么被告知仍在处理中。
type OrderHandler struct {
	orders    *application.OrderApplicationService
	inventory *invapp.InventoryService
	guard     *idemapp.Guard
	saga      *sagaapp.Orchestrator
}

// NewOrderHandler 创建一个新的 HTTP 处理器实例
func NewOrderHandler(orders *application.OrderApplicationService, inventory *invapp.InventoryService, guard *idemapp.Guard, saga *sagaapp.Orchestrator) *OrderHandler {
	return &OrderHandler{orders: orders, inventory: inventory, guard: guard, saga: saga}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/orders/create", h.createOrderHandler)
	mux.HandleFunc("/orders/cancel", h.cancelOrderHandler)
	mux.HandleFunc("/orders/pay", h.submitPaymentHandler)
	mux.HandleFunc("/orders/get", h.getOrderHandler)
	mux.HandleFunc("/admin/stock/adjust", h.adjustStockHandler)
}

func (h *OrderHandler) createOrderHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(serviceName).Start(ctx, "api.CreateOrder")
	defer span.End()

	var cmd application.CreateOrderCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	orderEntity, err := h.orders.CreateOrder(ctx, &cmd)
	if err != nil {
		span.RecordError(err)
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"orderId":     orderEntity.ID,
		"state":       orderEntity.State,
		"finalAmount": orderEntity.FinalAmount,
	})
}

func (h *OrderHandler) cancelOrderHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(serviceName).Start(ctx, "api.CancelOrder")
	defer span.End()

	orderID := r.URL.Query().Get("orderId")
	if orderID == "" {
		http.Error(w, "orderId is required", http.StatusBadRequest)
		return
	}

	if err := h.orders.CancelOrder(ctx, orderID, "cancelled by user"); err != nil {
		span.RecordError(err)
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *OrderHandler) getOrderHandler(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("orderId")
	orderEntity, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"orderId":     orderEntity.ID,
		"userId":      orderEntity.UserID,
		"state":       orderEntity.State,
		"totalAmount": orderEntity.TotalAmount,
		"finalAmount": orderEntity.FinalAmount,
	})
}

// paymentResponse 是支付提交的响应体。首次执行时序列化一次并存入
// 幂等记录，后续重放直接回写存储的字节。
type paymentResponse struct {
	SagaID     string  `json:"sagaId"`
	OrderID    string  `json:"orderId"`
	Status     string  `json:"status"`
	PaidAmount float64 `json:"paidAmount,omitempty"`
}

func (h *OrderHandler) submitPaymentHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(serviceName).Start(ctx, "api.SubmitPayment")
	defer span.End()

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey == "" {
		http.Error(w, "Idempotency-Key header is required", http.StatusBadRequest)
		return
	}
	orderID := r.URL.Query().Get("orderId")
	userID := r.URL.Query().Get("userId")
	if orderID == "" || userID == "" {
		http.Error(w, "orderId and userId are required", http.StatusBadRequest)
		return
	}

	acquired, err := h.guard.AcquireKey(ctx, idemKey, requestTypeSubmitPayment, userID, orderID)
	if err != nil {
		span.RecordError(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	switch acquired.Outcome {
	case idemdomain.OutcomeAlreadyCompleted:
		// 逐字节重放首次响应
		w.Header().Set("Content-Type", "application/json")
		w.Write(acquired.Response)
		return
	case idemdomain.OutcomeProcessing:
		http.Error(w, "request is still being processed, retry later", http.StatusConflict)
		return
	case idemdomain.OutcomeFailed:
		http.Error(w, acquired.Message, http.StatusConflict)
		return
	}

	result, execErr := h.saga.Execute(ctx, orderID, userID)
	if execErr != nil {
		span.RecordError(execErr)
		if err := h.guard.MarkAsFailed(ctx, idemKey, execErr.Error()); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("idem_key", idemKey).Msg("Failed to mark idempotency record FAILED")
		}
		status := http.StatusConflict
		if result != nil && result.Status == paymentdomain.StatusStuck {
			status = http.StatusInternalServerError
		}
		http.Error(w, execErr.Error(), status)
		return
	}

	responseBody, err := json.Marshal(paymentResponse{
		SagaID:     result.SagaID,
		OrderID:    result.OrderID,
		Status:     string(result.Status),
		PaidAmount: result.PaidAmount,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := h.guard.MarkAsCompleted(ctx, idemKey, responseBody); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("idem_key", idemKey).Msg("Failed to store idempotent response")
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(responseBody)
}

func (h *OrderHandler) adjustStockHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(serviceName).Start(ctx, "api.AdjustStock")
	defer span.End()

	sku := r.URL.Query().Get("sku")
	newValue, err := strconv.Atoi(r.URL.Query().Get("value"))
	if sku == "" || err != nil {
		http.Error(w, "sku and a numeric value are required", http.StatusBadRequest)
		return
	}

	inv, err := h.inventory.AdjustStock(ctx, sku, newValue)
	if err != nil {
		span.RecordError(err)
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"sku":       inv.SKU,
		"physical":  inv.PhysicalStock,
		"reserved":  inv.ReservedStock,
		"available": inv.AvailableStock(),
		"status":    inv.Status,
	})
}
