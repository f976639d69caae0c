package amqp

import (
	"fmt"
	"strings"

	"github.com/Azure/azure-amqp-common-go/v4/conn"
	"github.com/pkg/errors"
)

// ConnectionStringProperties is the parsed form of the Azure connection
// string dialect (spec §6): `Endpoint=sb://<ns>.servicebus.windows.net/;
// SharedAccessKeyName=<k>;SharedAccessKey=<v>;EntityPath=<e>
// [;UseDevelopmentEmulator=true]`.
type ConnectionStringProperties struct {
	Host                   string
	Namespace              string
	EntityPath             string
	KeyName                string
	Key                    string
	SharedAccessSignature  string
	UseDevelopmentEmulator bool
}

// ParseConnectionString parses an Azure-dialect AMQP connection string,
// delegating the key=value tokenizing to
// github.com/Azure/azure-amqp-common-go/v4/conn -- the same helper the
// teacher's Namespace type is built on -- and layering on the
// UseDevelopmentEmulator extension this spec adds.
func ParseConnectionString(connStr string) (*ConnectionStringProperties, error) {
	parsed, err := conn.ParsedConnectionFromStr(connStr)
	if err != nil {
		return nil, errors.Wrap(err, "amqp: invalid connection string")
	}

	props := &ConnectionStringProperties{
		Host:                  parsed.Host,
		Namespace:             parsed.Namespace,
		EntityPath:            parsed.HubName,
		KeyName:               parsed.KeyName,
		Key:                   parsed.Key,
		SharedAccessSignature: parsed.SAS,
	}

	for _, field := range strings.Split(connStr, ";") {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(kv[0]), "UseDevelopmentEmulator") {
			props.UseDevelopmentEmulator = strings.EqualFold(strings.TrimSpace(kv[1]), "true")
		}
	}

	if props.Host == "" {
		return nil, errors.New("amqp: connection string is missing an Endpoint")
	}
	return props, nil
}

// HostPort returns the host:port pair to dial, applying the Azure dialect's
// fixed TLS/non-TLS port convention (spec §6).
func (p *ConnectionStringProperties) HostPort(useTLS bool) string {
	port := 5671
	if !useTLS {
		port = 5672
	}
	return fmt.Sprintf("%s:%d", p.Host, port)
}

// TokenCredential builds a SASTokenCredential from the connection string's
// key name/value, for use when the caller hasn't supplied their own
// TokenCredential to the CBS client.
func (p *ConnectionStringProperties) TokenCredential() (TokenCredential, error) {
	if p.KeyName == "" || p.Key == "" {
		return nil, errors.New("amqp: connection string does not carry a SharedAccessKeyName/SharedAccessKey pair")
	}
	return NewSASTokenCredential(p.KeyName, p.Key), nil
}
