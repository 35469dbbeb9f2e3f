package service

import (
	"fmt"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/ports"
)

// Gateways resolves the adapter for a payment method.
type Gateways struct {
	byMethod map[domain.PaymentMethod]ports.Gateway
}

func NewGateways(gateways ...ports.Gateway) *Gateways {
	g := &Gateways{byMethod: make(map[domain.PaymentMethod]ports.Gateway, len(gateways))}
	for _, gw := range gateways {
		g.byMethod[gw.Method()] = gw
	}
	return g
}

func (g *Gateways) Get(method domain.PaymentMethod) (ports.Gateway, error) {
	gw, ok := g.byMethod[method]
	if !ok {
		return nil, domain.NewInvalidRequestError(fmt.Sprintf("payment method %q is not supported", method))
	}
	return gw, nil
}
