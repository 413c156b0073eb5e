// Package kafka publishes dead-lettered points to a Kafka topic, with optional
// mutual TLS configured from PKCS#12 trust and key stores.
package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"software.sslmate.com/src/go-pkcs12"

	"energybridge/pkg/types"
)

const writeTimeout = 10 * time.Second

// ErrNoBrokers is returned when the producer has nothing to connect to.
var ErrNoBrokers = errors.New("no Kafka brokers configured")

// messageWriter is the subset of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes messages to Kafka.
type Producer struct {
	config *types.KafkaConfig
	logger *zap.Logger
	writer messageWriter
}

// NewProducer creates a new Kafka producer
func NewProducer(config *types.KafkaConfig, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{
		config: config,
		logger: logger.With(zap.String("component", "kafka")),
	}
}

// Connect initializes the Kafka writer. Topics are created on first write.
func (p *Producer) Connect() error {
	if len(p.config.Brokers) == 0 {
		return ErrNoBrokers
	}

	tlsConfig, err := p.TLSConfig()
	if err != nil {
		return fmt.Errorf("failed to create TLS config: %w", err)
	}

	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(p.config.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		WriteTimeout:           writeTimeout,
		Transport: &kafka.Transport{
			TLS: tlsConfig,
		},
	}

	p.logger.Info("Kafka producer initialized",
		zap.Strings("brokers", p.config.Brokers),
		zap.Bool("tls", tlsConfig != nil))
	return nil
}

// WriteMessage sends a message to Kafka
func (p *Producer) WriteMessage(ctx context.Context, msg *types.KafkaMessage) error {
	if p.writer == nil {
		return errors.New("kafka producer not connected")
	}
	if err := p.writer.WriteMessages(ctx, toKafkaMessage(msg)); err != nil {
		return fmt.Errorf("failed to write message to Kafka topic %s: %w", msg.Topic, err)
	}
	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	p.logger.Info("Closing Kafka producer")
	return p.writer.Close()
}

// TLSConfig builds the client TLS settings, or returns nil when the security
// protocol is not SSL.
func (p *Producer) TLSConfig() (*tls.Config, error) {
	if strings.ToUpper(p.config.Security.Protocol) != "SSL" {
		return nil, nil
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	ssl := p.config.Security.SSL

	if ssl.Truststore.Location != "" {
		pool, err := loadTruststore(ssl.Truststore.Location, ssl.Truststore.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to load truststore: %w", err)
		}
		tlsConfig.RootCAs = pool
		p.logger.Info("Loaded CA certificates from truststore", zap.String("path", ssl.Truststore.Location))
	}

	if ssl.Keystore.Location != "" {
		password := ssl.Keystore.KeyPassword
		if password == "" {
			password = ssl.Keystore.Password
		}
		cert, err := loadKeystore(ssl.Keystore.Location, password)
		if err != nil {
			return nil, fmt.Errorf("failed to load keystore: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
		p.logger.Info("Loaded client certificate from keystore", zap.String("path", ssl.Keystore.Location))
	}

	return tlsConfig, nil
}

func toKafkaMessage(msg *types.KafkaMessage) kafka.Message {
	return kafka.Message{
		Topic: msg.Topic,
		Key:   []byte(msg.Key),
		Value: msg.Value,
	}
}

// loadTruststore loads CA certificates from a PKCS#12 truststore
func loadTruststore(filename, password string) (*x509.CertPool, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	certs, err := pkcs12.DecodeTrustStore(data, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decode PKCS#12 truststore (check password): %w", err)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificates found in truststore %s", filename)
	}

	pool := x509.NewCertPool()
	for _, cert := range certs {
		pool.AddCert(cert)
	}
	return pool, nil
}

// loadKeystore loads the client certificate and private key from a PKCS#12 keystore
func loadKeystore(filename, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return tls.Certificate{}, err
	}

	privateKey, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to decode PKCS#12 keystore (check password): %w", err)
	}
	if privateKey == nil || cert == nil {
		return tls.Certificate{}, errors.New("no private key or certificate found in keystore")
	}

	chain := [][]byte{cert.Raw}
	for _, ca := range caCerts {
		chain = append(chain, ca.Raw)
	}
	return tls.Certificate{
		Certificate: chain,
		PrivateKey:  privateKey,
		Leaf:        cert,
	}, nil
}
