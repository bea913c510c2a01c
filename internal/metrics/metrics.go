package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SalesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "waralabaku",
		Name:      "sales_recorded_total",
		Help:      "Sale entries successfully recorded.",
	})

	SalesEdited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "waralabaku",
		Name:      "sales_edited_total",
		Help:      "Sale entries successfully edited.",
	})

	ExpensesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "waralabaku",
		Name:      "expenses_recorded_total",
		Help:      "Expense entries successfully recorded.",
	})

	EntriesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "waralabaku",
		Name:      "entries_deleted_total",
		Help:      "Revenue and expense rows removed by delete requests.",
	})

	InsufficientStockRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "waralabaku",
		Name:      "insufficient_stock_rejections_total",
		Help:      "Sale writes rejected because requested quantity exceeded stock.",
	})
)
