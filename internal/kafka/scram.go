package kafka

import (
	"crypto/sha256"
	"crypto/sha512"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"
)

const (
	MechanismSHA512 = "SCRAM-SHA-512"
	MechanismSHA256 = "SCRAM-SHA-256"
)

var (
	sha512Generator scram.HashGeneratorFcn = sha512.New
	sha256Generator scram.HashGeneratorFcn = sha256.New
)

// scramClient runs one SCRAM conversation for sarama.
type scramClient struct {
	hashGenerator scram.HashGeneratorFcn
	conversation  *scram.ClientConversation
}

var _ sarama.SCRAMClient = (*scramClient)(nil)

func (client *scramClient) Begin(userName, password, authzID string) error {
	scramClient, err := client.hashGenerator.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}

	client.conversation = scramClient.NewConversation()

	return nil
}

func (client *scramClient) Step(challenge string) (string, error) {
	return client.conversation.Step(challenge)
}

func (client *scramClient) Done() bool {
	return client.conversation.Done()
}

// saslMechanism maps a configured mechanism name to sarama's mechanism and
// the matching hash. Unknown names fall back to SHA-512.
func saslMechanism(name string) (sarama.SASLMechanism, scram.HashGeneratorFcn) {
	if name == MechanismSHA256 {
		return sarama.SASLTypeSCRAMSHA256, sha256Generator
	}

	return sarama.SASLTypeSCRAMSHA512, sha512Generator
}
