package idm

import (
	"context"
	"fmt"
	"strings"

	"github.com/MarcGrol/idmevents/lib/mypublisher"
)

const ProvisioningTopicName = "provisioning"

type ProvisioningOperation string

const (
	ProvisioningCreate  ProvisioningOperation = "CREATE"
	ProvisioningUpdate  ProvisioningOperation = "UPDATE"
	ProvisioningDelete  ProvisioningOperation = "DELETE"
	ProvisioningArchive ProvisioningOperation = "ARCHIVE"
)

// ProvisioningRequest asks the connector of a system to apply an account change on the system.
type ProvisioningRequest struct {
	Operation     ProvisioningOperation
	AccountUID    string
	AccountName   string
	SystemUID     string
	TransactionID string
}

func (r ProvisioningRequest) GetEventTypeName() string {
	return fmt.Sprintf("%s.%s", ProvisioningTopicName, strings.ToLower(string(r.Operation)))
}

func (r ProvisioningRequest) GetAggregateName() string {
	return r.AccountUID
}

type provisioner struct {
	publisher mypublisher.Publisher
}

func newProvisioner(publisher mypublisher.Publisher) *provisioner {
	return &provisioner{
		publisher: publisher,
	}
}

// provision stores the request in the outbox of the running unit of work.
func (p *provisioner) provision(c context.Context, operation ProvisioningOperation, account Account, transactionID string) error {
	err := p.publisher.Publish(c, ProvisioningTopicName, ProvisioningRequest{
		Operation:     operation,
		AccountUID:    account.UID,
		AccountName:   account.Name,
		SystemUID:     account.SystemUID,
		TransactionID: transactionID,
	})
	if err != nil {
		return fmt.Errorf("error requesting %s provisioning of account %s: %w", operation, account.UID, err)
	}
	return nil
}
