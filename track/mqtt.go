package track

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// FrameHandler is called for every incoming frame message. rawPayload is
// set for MQTT messages; frame is nil when fetching or decoding failed.
type FrameHandler func(rawPayload []byte, frame *Frame, err error)

// MQTTClient manages the MQTT connection and the frame subscription
type MQTTClient struct {
	client       mqtt.Client
	config       *Config
	frameHandler FrameHandler
	isConnected  bool
	mu           sync.RWMutex
}

// InitMQTT creates an MQTT client subscribed to the configured input topic.
// If neither MQTT_BROKER nor mqtt.broker is set, MQTT is disabled and this returns nil.
func InitMQTT(config *Config, handler FrameHandler) (*MQTTClient, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		log.Println("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil {
		return nil, fmt.Errorf("MQTT enabled but no configuration provided")
	}
	if handler == nil {
		return nil, fmt.Errorf("MQTT enabled but no frame handler provided")
	}

	client := &MQTTClient{
		config:       config,
		frameHandler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "cloudtrack"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" && config.MQTT.Username != "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && config.MQTT.Password != "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	// Frames must reach the registrar in arrival order
	opts.SetOrderMatters(true)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	return client, nil
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] Connecting to broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] Connected to broker")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] Connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] Connection timeout")
		}

		log.Printf("[MQTT] Retrying connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes to the input topic whenever the connection is (re)established
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	topic := c.config.GetInputTopic()
	log.Printf("[MQTT] Subscribing to %s", topic)
	token := client.Subscribe(topic, 0, c.createFrameHandler())
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("[MQTT] Error subscribing to %s: %v", topic, token.Error())
		return
	}
	log.Printf("[MQTT] Subscribed to %s", topic)
}

// onConnectionLost is called when the MQTT connection is lost.
// Auto-reconnect is enabled, so this is typically a transient event.
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] Connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("[MQTT] Reconnecting...")
}

// createFrameHandler decodes each input message and forwards it
func (c *MQTTClient) createFrameHandler() mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()

		frame, err := DecodeFrame(payload)
		if err != nil {
			log.Printf("[MQTT] Error decoding frame on %s (%d bytes): %v", msg.Topic(), len(payload), err)
			c.frameHandler(payload, nil, err)
			return
		}
		c.frameHandler(payload, frame, nil)
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] Disconnecting from broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock creates an MQTTClient around a provided mqtt.Client.
// This is used for testing with mock clients.
func newMQTTClientWithMock(client mqtt.Client, config *Config, handler FrameHandler) *MQTTClient {
	return &MQTTClient{
		client:       client,
		config:       config,
		frameHandler: handler,
	}
}
