package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"dmxnet/internal/artnet"
	"dmxnet/internal/logger"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Topics published and subscribed by the bridge.
const (
	topicNodes  = "artnet/nodes/"  // + MAC: discovered-node JSON
	topicFrames = "artnet/dmx/"    // + port address: received universe JSON
	topicSet    = "artnet/set/"    // + port address: channel-set commands
)

// Bridge mirrors the Art-Net engine onto an MQTT broker: node discovery and
// received DMX frames go out as retained topics, channel-set commands come
// in and drive the matching sender.
type Bridge struct {
	ctx    context.Context
	log    logger.Logger
	cfg    Conf
	engine *artnet.Engine
	client mqtt.Client

	senders map[int]*artnet.Sender // keyed by port address integer
}

// Conf carries the broker connection settings.
type Conf struct {
	ClientID string
	Schema   string
	Host     string
	Port     string
	User     string
	Password string
	Qos      byte
}

// NewBridge wires a bridge to the given engine. senders maps port addresses
// to the senders that accept set commands.
func NewBridge(log logger.Logger, cfg Conf, engine *artnet.Engine, senders map[int]*artnet.Sender) *Bridge {
	return &Bridge{
		log:     log,
		cfg:     cfg,
		engine:  engine,
		senders: senders,
	}
}

// Start connects to the broker and subscribes to the engine's streams.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx = ctx

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%s", b.cfg.Schema, b.cfg.Host, b.cfg.Port)).
		SetUsername(b.cfg.User).
		SetPassword(b.cfg.Password).
		SetDefaultPublishHandler(b.messageHandler).
		SetOnConnectHandler(b.connectHandler).
		SetConnectionLostHandler(b.connectLostHandler).
		SetClientID(b.cfg.ClientID).
		SetOrderMatters(false).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)

	b.client = mqtt.NewClient(opts)

	token := b.client.Connect()
	select {
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	case <-ctx.Done():
		return errors.New("context canceled")
	}

	b.engine.SubscribeNodeUpdates(b.publishNode)
	b.log.With(logger.Fields{"module": "mqtt"}).Infof("connected: %v", b.client.IsConnected())
	return nil
}

// Stop disconnects from the broker.
func (b *Bridge) Stop() error {
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(500)
	}
	return nil
}

// WatchReceiver publishes every frame the receiver accepts.
func (b *Bridge) WatchReceiver(r *artnet.Receiver) {
	addr := r.Address().Integer()
	r.Subscribe(func(data []byte) {
		b.publish(fmt.Sprintf("%s%d", topicFrames, addr), framePayload{Address: addr, Data: data})
	})
}

// nodePayload is the JSON shape published for a discovered node.
type nodePayload struct {
	Mac       string   `json:"mac"`
	IP        string   `json:"ip"`
	ShortName string   `json:"shortName"`
	LongName  string   `json:"longName"`
	Report    string   `json:"report"`
	Outputs   []string `json:"outputs"`
	Inputs    []string `json:"inputs"`
}

type framePayload struct {
	Address int    `json:"address"`
	Data    []byte `json:"data"`
}

// SetCommand is one channel assignment received over MQTT.
type SetCommand struct {
	Channel int `json:"channel"`
	Value   int `json:"value"`
}

func (b *Bridge) publishNode(n *artnet.Node) {
	p := nodePayload{
		Mac:       n.Mac,
		IP:        n.IP.String(),
		ShortName: n.ShortName,
		LongName:  n.LongName,
		Report:    n.Report,
	}
	for _, port := range n.OutPorts {
		p.Outputs = append(p.Outputs, fmt.Sprintf("%d:%d:%d", port.Net, port.Subnet, port.Universe))
	}
	for _, port := range n.InPorts {
		p.Inputs = append(p.Inputs, fmt.Sprintf("%d:%d:%d", port.Net, port.Subnet, port.Universe))
	}
	b.publish(topicNodes+n.Mac, p)
}

func (b *Bridge) publish(topic string, payload interface{}) {
	msg, err := json.Marshal(payload)
	if err != nil {
		b.log.With(logger.Fields{"module": "mqtt"}).Errorf("marshal for %s: %v", topic, err)
		return
	}
	token := b.client.Publish(topic, b.cfg.Qos, true, msg)
	go func() {
		select {
		case <-b.ctx.Done():
		case <-token.Done():
			if token.Error() != nil {
				b.log.With(logger.Fields{"module": "mqtt"}).Errorf("publish %s: %v", topic, token.Error())
			}
		}
	}()
}

func (b *Bridge) connectHandler(_ mqtt.Client) {
	b.log.With(logger.Fields{"module": "mqtt"}).Info("client connected to server")
	for addr := range b.senders {
		topic := fmt.Sprintf("%s%d", topicSet, addr)
		token := b.client.Subscribe(topic, b.cfg.Qos, nil)
		go func(topic string, token mqtt.Token) {
			select {
			case <-b.ctx.Done():
			case <-token.Done():
				if token.Error() != nil {
					b.log.With(logger.Fields{"module": "mqtt"}).Errorf("subscribe %s: %v", topic, token.Error())
					return
				}
				b.log.With(logger.Fields{"module": "mqtt"}).Debugf("topic %s subscribed", topic)
			}
		}(topic, token)
	}
}

func (b *Bridge) connectLostHandler(_ mqtt.Client, err error) {
	b.log.With(logger.Fields{"module": "mqtt"}).Errorf("server connect lost: %v", err)
}

func (b *Bridge) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	b.log.With(logger.Fields{"module": "mqtt"}).Debugf("received message from topic %s", msg.Topic())
	go b.applySet(msg)
}

// applySet parses a set-command payload and drives the matching sender.
// Commands are batched: channels are prepped and the universe transmitted
// once at the end.
func (b *Bridge) applySet(msg mqtt.Message) {
	if !strings.HasPrefix(msg.Topic(), topicSet) {
		return
	}
	var addr int
	if _, err := fmt.Sscanf(strings.TrimPrefix(msg.Topic(), topicSet), "%d", &addr); err != nil {
		b.log.With(logger.Fields{"module": "mqtt"}).Errorf("bad set topic %s: %v", msg.Topic(), err)
		return
	}
	s, ok := b.senders[addr]
	if !ok {
		b.log.With(logger.Fields{"module": "mqtt"}).Errorf("no sender for address %d", addr)
		return
	}

	var cmds []SetCommand
	if err := json.Unmarshal(msg.Payload(), &cmds); err != nil {
		b.log.With(logger.Fields{"module": "mqtt"}).Errorf("payload could not be parsed: %v", err)
		return
	}
	for _, c := range cmds {
		if err := s.PrepChannel(c.Channel, c.Value); err != nil {
			b.log.With(logger.Fields{"module": "mqtt"}).Errorf("set %d=%d: %v", c.Channel, c.Value, err)
		}
	}
	s.Transmit()
}
