package mux

import (
	"bytes"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"
)

const (
	rtmpDefaultPort  = "1935"
	rtmpChunkSize    = 128
	rtmpChunkAudio   = 4
	rtmpChunkVideo   = 6
	rtmpChunkData    = 8
	rtmpBandwidthWin = 6 * 1024 * 1024
)

// RTMPConn publishes FLV tags to an RTMP server. It implements TagWriter.
type RTMPConn struct {
	client *rtmp.ClientConn
	stream *rtmp.Stream
	log    logrus.FieldLogger
}

// ParseRTMPURL splits rtmp://host[:port]/app[/...]/key into the dial
// address, app and stream key.
func ParseRTMPURL(raw string) (addr, app, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", "", err
	}
	if u.Scheme != "rtmp" {
		return "", "", "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	path := strings.Trim(u.Path, "/")
	i := strings.LastIndex(path, "/")
	if i <= 0 || i == len(path)-1 {
		return "", "", "", fmt.Errorf("rtmp url %q needs /app/key", raw)
	}
	addr = u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), rtmpDefaultPort)
	}
	return addr, path[:i], path[i+1:], nil
}

// DialRTMP connects to rawURL and starts publishing.
func DialRTMP(rawURL string, logger logrus.FieldLogger) (*RTMPConn, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	addr, app, key, err := ParseRTMPURL(rawURL)
	if err != nil {
		return nil, err
	}
	log := logger.WithFields(logrus.Fields{"sink": "rtmp", "addr": addr, "app": app})

	client, err := rtmp.Dial("rtmp", addr, &rtmp.ConnConfig{
		Logger: log,
		ControlState: rtmp.StreamControlStateConfig{
			DefaultBandwidthWindowSize: rtmpBandwidthWin,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	tcURL := "rtmp://" + addr + "/" + app
	if err := client.Connect(&rtmpmsg.NetConnectionConnect{
		Command: rtmpmsg.NetConnectionConnectCommand{
			App:      app,
			Type:     "nonprivate",
			FlashVer: "FMLE/3.0 (compatible; encstream)",
			TCURL:    tcURL,
		},
	}); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect %s: %w", tcURL, err)
	}

	stream, err := client.CreateStream(nil, rtmpChunkSize)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create stream: %w", err)
	}
	if err := stream.Publish(&rtmpmsg.NetStreamPublish{
		PublishingName: key,
		PublishingType: "live",
	}); err != nil {
		client.Close()
		return nil, fmt.Errorf("publish: %w", err)
	}

	log.Info("rtmp publishing started")
	return &RTMPConn{client: client, stream: stream, log: log}, nil
}

func (c *RTMPConn) WriteMetadata(body []byte) error {
	return c.stream.Write(rtmpChunkData, 0, &rtmpmsg.DataMessage{
		Name:     "@setDataFrame",
		Encoding: rtmpmsg.EncodingTypeAMF0,
		Body:     bytes.NewReader(body),
	})
}

func (c *RTMPConn) WriteAudio(ts uint32, body []byte) error {
	return c.stream.Write(rtmpChunkAudio, ts, &rtmpmsg.AudioMessage{Payload: bytes.NewReader(body)})
}

func (c *RTMPConn) WriteVideo(ts uint32, body []byte) error {
	return c.stream.Write(rtmpChunkVideo, ts, &rtmpmsg.VideoMessage{Payload: bytes.NewReader(body)})
}

func (c *RTMPConn) Close() error {
	c.log.Info("rtmp publishing stopped")
	return c.client.Close()
}
