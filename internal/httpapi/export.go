package httpapi

import (
	"fmt"
	"sort"
	"strings"

	"github.com/diopweb/Sofalia-v7/internal/domain"
)

func salesSummaryToCSV(summary domain.SalesSummary) string {
	lines := []string{
		"section,key,value",
		fmt.Sprintf("summary,from,%s", summary.From),
		fmt.Sprintf("summary,to,%s", summary.To),
		fmt.Sprintf("summary,sales,%d", summary.SaleCount),
		fmt.Sprintf("summary,gross_total,%d", summary.GrossTotal),
		fmt.Sprintf("summary,collected_total,%d", summary.CollectedTotal),
		fmt.Sprintf("summary,outstanding,%d", summary.Outstanding),
		fmt.Sprintf("summary,refunded_total,%d", summary.RefundedTotal),
	}

	statuses := make([]string, 0, len(summary.ByStatus))
	for status := range summary.ByStatus {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		lines = append(lines, fmt.Sprintf("status,%s,%d", csvField(status), summary.ByStatus[status]))
	}

	paymentTypes := make([]string, 0, len(summary.ByPaymentType))
	for paymentType := range summary.ByPaymentType {
		paymentTypes = append(paymentTypes, paymentType)
	}
	sort.Strings(paymentTypes)
	for _, paymentType := range paymentTypes {
		lines = append(lines, fmt.Sprintf("payment,%s,%d", csvField(paymentType), summary.ByPaymentType[paymentType]))
	}
	return strings.Join(lines, "\n") + "\n"
}

func csvField(value string) string {
	if strings.ContainsAny(value, ",\"\n") {
		return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
	}
	return value
}
