package riskengine

import (
	"time"

	"github.com/dop251/goja"
	"github.com/riftwatch/easm/internal/platform/apierr"
)

// evaluateCustomFactor runs a project-authored expression from
// RiskFactor.CalculationRule against a fixed numeric binding set. The VM is
// given no host functions, no network, and no filesystem access — it can
// only combine the bound numbers into a result (spec §9, §11.1).
func evaluateCustomFactor(rule map[string]any, in Input) (float64, error) {
	expr, _ := rule["expression"].(string)
	if expr == "" {
		return 0, apierr.Validation("custom risk factor missing expression")
	}

	vm := goja.New()
	vm.Set("critical_vulns", in.CriticalVulns)
	vm.Set("high_vulns", in.HighVulns)
	vm.Set("medium_vulns", in.MediumVulns)
	vm.Set("low_vulns", in.LowVulns)
	vm.Set("open_ports", in.OpenPorts)
	vm.Set("high_risk_ports", in.HighRiskPorts)

	done := make(chan struct{})
	go func() {
		select {
		case <-time.After(50 * time.Millisecond):
			vm.Interrupt("calculation_rule timed out")
		case <-done:
		}
	}()

	v, err := vm.RunString(expr)
	close(done)
	if err != nil {
		return 0, apierr.Wrap(apierr.KindValidation, "custom risk factor expression failed", err)
	}

	result := v.ToFloat()
	if result < 0 {
		result = 0
	}
	if result > 100 {
		result = 100
	}
	return result, nil
}
