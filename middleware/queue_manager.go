package middleware

import (
	"fmt"
	"log"

	"github.com/pannadata/consolidator/common"
	amqp "github.com/rabbitmq/amqp091-go"
)

// QueueManager manages the RabbitMQ connection outcome events are published on
type QueueManager struct {
	host       string
	port       int
	username   string
	password   string
	exchange   string
	connection *amqp.Connection
	channel    *amqp.Channel
}

// NewQueueManager creates a new QueueManager instance
func NewQueueManager(rabbitmqConfig *common.RabbitmqConfig) *QueueManager {
	qm := &QueueManager{
		host:     rabbitmqConfig.Host,
		port:     rabbitmqConfig.Port,
		username: rabbitmqConfig.Username,
		password: rabbitmqConfig.Password,
		exchange: rabbitmqConfig.Exchange,
	}

	log.Printf("action: queue_manager_init | host: %s | exchange: %s", qm.host, qm.exchange)
	return qm
}

// Connect establishes connection to RabbitMQ and declares the events exchange
func (qm *QueueManager) Connect() error {
	var err error

	connStr := fmt.Sprintf("amqp://%s:%s@%s:%d/",
		qm.username, qm.password, qm.host, qm.port)

	qm.connection, err = amqp.Dial(connStr)
	if err != nil {
		log.Printf("action: rabbitmq_connect | result: fail | error: %v", err)
		return err
	}

	qm.channel, err = qm.connection.Channel()
	if err != nil {
		log.Printf("action: rabbitmq_channel | result: fail | error: %v", err)
		return err
	}

	err = qm.channel.ExchangeDeclare(
		qm.exchange, // name
		"topic",     // type
		true,        // durable
		false,       // auto-deleted
		false,       // internal
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		log.Printf("action: exchange_declare | result: fail | exchange: %s | error: %v",
			qm.exchange, err)
		return err
	}

	log.Printf("action: rabbitmq_connect | result: success | host: %s | exchange: %s",
		qm.host, qm.exchange)
	return nil
}

// Publisher returns a publisher on the connected channel
func (qm *QueueManager) Publisher() (*Publisher, error) {
	if qm.channel == nil {
		return nil, fmt.Errorf("rabbitmq not connected")
	}
	return NewPublisher(qm.channel, qm.exchange), nil
}

// Close closes the connection
func (qm *QueueManager) Close() error {
	var err error
	if qm.connection != nil && !qm.connection.IsClosed() {
		err = qm.connection.Close()
	}
	if err != nil {
		log.Printf("action: rabbitmq_disconnect | result: fail | error: %v", err)
	} else {
		log.Println("action: rabbitmq_disconnect | result: success")
	}
	return err
}
