// Package paymentsvc implements the online payment gateway.
package paymentsvc

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"time"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/snap"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker/v2"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/payment"
)

const itemCategory = "Tuition"

// MidtransGateway creates Snap checkouts and verifies Midtrans notifications.
type MidtransGateway struct {
	client    snap.Client
	serverKey string
	breaker   *gobreaker.CircuitBreaker[*snap.Response]
}

var _ payment.Gateway = (*MidtransGateway)(nil) // interface compliance check

// NewMidtransGateway returns nil when no server key is configured: online payments are disabled.
func NewMidtransGateway(conf core.PaymentConfig) *MidtransGateway {
	if conf.MidtransServerKey == "" {
		return nil
	}
	env := midtrans.Sandbox
	if conf.Production {
		env = midtrans.Production
	}

	gw := &MidtransGateway{serverKey: conf.MidtransServerKey}
	gw.client.New(conf.MidtransServerKey, env)
	gw.breaker = gobreaker.NewCircuitBreaker[*snap.Response](gobreaker.Settings{
		Name:        "midtrans",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return gw
}

// grossAmount converts minor units to the whole amount charged by the gateway, rounding up.
func grossAmount(amount int64) int64 {
	gross := amount / 100
	if amount%100 != 0 {
		gross++
	}
	return gross
}

func (gw *MidtransGateway) CreateCheckout(_ context.Context, co payment.Checkout) (payment.CheckoutResult, error) {
	gross := grossAmount(co.Amount)
	desc := co.Description
	if len(desc) > 50 {
		desc = desc[:50]
	}

	req := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  co.OrderID,
			GrossAmt: gross,
		},
		CustomerDetail: &midtrans.CustomerDetails{
			FName: co.CustomerName,
			Email: co.CustomerEmail,
			Phone: co.CustomerPhone,
		},
		Items: &[]midtrans.ItemDetails{{
			ID:       co.OrderID,
			Name:     desc,
			Price:    gross,
			Qty:      1,
			Category: itemCategory,
		}},
	}

	resp, err := gw.breaker.Execute(func() (*snap.Response, error) {
		resp, merr := gw.client.CreateTransaction(req)
		if merr != nil {
			return nil, merr
		}
		return resp, nil
	})
	if err != nil {
		return payment.CheckoutResult{}, errors.Wrap(err, "creating midtrans transaction")
	}
	return payment.CheckoutResult{Token: resp.Token, RedirectURL: resp.RedirectURL}, nil
}

// Signature returns the signature Midtrans puts on a notification: SHA512(order_id+status_code+gross_amount+server_key).
func Signature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

func (gw *MidtransGateway) VerifyNotification(n payment.Notification) error {
	want := Signature(n.OrderID, n.StatusCode, n.GrossAmount, gw.serverKey)
	got := strings.ToLower(strings.TrimSpace(n.SignatureKey))
	if subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		return payment.ErrInvalidSignature
	}
	return nil
}
