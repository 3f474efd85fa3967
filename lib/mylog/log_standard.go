package mylog

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/MarcGrol/idmevents/lib/mycontext"
)

func init() {
	if os.Getenv("GOOGLE_CLOUD_PROJECT") == "" {
		New = newStandardLogger
	}
}

type standardLogger struct {
	componentName string
}

func newStandardLogger(componentName string) Logger {
	return standardLogger{
		componentName: componentName,
	}
}

func (l standardLogger) Log(ctx context.Context, traceLabel string, severity Severity, format string, a ...any) {
	transactionID := mycontext.TransactionID(ctx)
	if transactionID == "" {
		transactionID = "-"
	}
	log.Printf("%s - %s - %s - %s - %s", l.componentName, transactionID, traceLabel, string(severity), fmt.Sprintf(format, a...))
}
