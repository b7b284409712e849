package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/emiago/diago/media"
	msdk "github.com/livekit/media-sdk"
	"github.com/livekit/protocol/logger"
	"github.com/pion/rtp"

	"rocpipe/bridge/endpoints"
	"rocpipe/bridge/pcm"
	"rocpipe/bridge/pipeline"
	"rocpipe/pkg/config"
	"rocpipe/pkg/plc"
)

type MediaBridge struct {
	ctx           context.Context
	cancel        context.CancelFunc
	logger        *slog.Logger
	sipFormat     pcm.AudioFormat
	tgFormat      pcm.AudioFormat
	sip           *endpoints.SipEndpoint
	tg            *endpoints.TgEndpoint
	sipToTGBuffer *pcm.PCMPlayoutBuffer
	driftTarget   int
	driftMaxBurst int
	wg            sync.WaitGroup
}

func NewMediaBridge(parent context.Context, logger *slog.Logger, sip *endpoints.SipEndpoint, tg *endpoints.TgEndpoint, driftTarget int, driftMaxBurst int) (*MediaBridge, error) {
	ctx, cancel := context.WithCancel(parent)
	if logger == nil {
		logger = slog.Default()
	}
	// NOTE: With media-sdk pipeline, decode/encode paths do their own resampling
	// via msdk.ResampleWriter, so we don't need explicit resamplers here.
	if driftTarget < 1 {
		driftTarget = 1
	}
	if driftMaxBurst < 1 {
		driftMaxBurst = 1
	}
	sipFormat := sip.Format()
	tgFormat := tg.Format()
	return &MediaBridge{
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
		sipFormat: sipFormat,
		tgFormat:  tgFormat,
		sip:       sip,
		tg:        tg,
		// PCM playout buffer decouples bursty SIP decode from TG real-time pacing.
		sipToTGBuffer: pcm.NewPCMPlayoutBuffer(tgFormat.FrameBytes()),
		driftTarget:   driftTarget,
		driftMaxBurst: driftMaxBurst,
	}, nil
}

func (b *MediaBridge) Start() {
	b.logger.Info("media bridge starting",
		"sip_rate", b.sipFormat.SampleRate,
		"tg_rate", b.tgFormat.SampleRate,
		"sip_frame_size", b.sipFormat.FrameBytes(),
		"tg_frame_size", b.tgFormat.FrameBytes(),
	)
	b.wg.Add(3)
	go b.readSIP()
	go b.writeTG()
	go b.writeSIP()
}

func (b *MediaBridge) Stop() {
	b.logger.Info("media bridge stopping")
	b.cancel()
	b.wg.Wait()
	b.logger.Info("media bridge stopped")
}

func (b *MediaBridge) readSIP() {
	defer b.wg.Done()
	if b.sip == nil || b.sip.LKCodec == nil {
		b.logger.Warn("sip media not ready (no codec)")
		return
	}
	if b.sip.RTPReader() == nil {
		b.logger.Warn("sip rtp reader not available")
		return
	}

	// Build LiveKit-like pipeline: jitter -> silence filler -> codec decode -> TG playout buffer.
	pt := b.sip.PayloadType()
	hc, err := pipeline.BuildSipDecodeChain(pipeline.SipDecodeConfig{
		Codec:         b.sip.LKCodec,
		PayloadType:   pt,
		InputChannels: b.sip.Channels,
		OutputFormat:  b.tgFormat,
		PlayoutBuffer: b.sipToTGBuffer,
		EnableJitter:  b.sip.EnableJitter,
		Log:           logger.GetLogger(),
	})
	if err != nil {
		b.logger.Warn("sip decode chain failed", "error", err)
		return
	}
	defer hc.Close()

	rtpBuf := make([]byte, media.RTPBufSize)
	pkt := &rtp.Packet{}
	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		*pkt = rtp.Packet{}
		_, err := b.sip.RTPReader().ReadRTP(rtpBuf, pkt)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				b.logger.Warn("sip rtp read failed", "error", err)
			}
			return
		}

		// Filter only negotiated payload type.
		if uint8(pkt.PayloadType) != pt || len(pkt.Payload) == 0 {
			continue
		}

		// IMPORTANT: jitter buffer keeps payload references; clone to avoid reuse bugs.
		payload := append([]byte(nil), pkt.Payload...)
		if err := hc.HandleRTP(&pkt.Header, payload); err != nil {
			b.logger.Warn("sip rtp handler failed", "error", err)
			return
		}
	}
}

// writeTG drains sipToTGBuffer into the TG leg through a concealment +
// rate-adaptive chain: lost/underrun audio is concealed by a PLC backend
// instead of silence, and backlog drift is absorbed by nudging the
// resampler's scaling coefficient rather than splicing samples by hand.
func (b *MediaBridge) writeTG() {
	defer b.wg.Done()

	maxBacklog := b.driftTarget + 200
	dp, err := pipeline.NewDriftPump(b.sipToTGBuffer, pipeline.DriftChainConfig{
		SampleRate:          b.tgFormat.SampleRate,
		Channels:            1,
		FrameMs:             int(b.tgFormat.FrameDur.Milliseconds()),
		TargetBacklogFrames: b.driftTarget,
		MaxBacklogFrames:    maxBacklog,
		Plc:                 config.PlcConfig{Backend: int(plc.Beep)},
		Resample:            config.ResamplerConfig{Backend: "auto", Profile: "medium"},
		Latency: config.LatencyMonitorConfig{
			FeEnable:         true,
			FeProfile:        config.Gradual,
			FeUpdateInterval: 5 * time.Millisecond,
			// The queue drops frames once backlog passes maxBacklog, so a
			// bound just above it only trips if dropping itself stopped
			// working.
			MaxLatency:      time.Duration(maxBacklog+10) * b.tgFormat.FrameDur,
			MaxScalingDelta: 0.01,
		},
	}, b.tg.SendPCMFrame10ms)
	if err != nil {
		b.logger.Error("writeTG drift chain build failed", "error", err)
		return
	}
	b.logger.Info("writeTG goroutine started", "tg_frame_dur_ms", b.tgFormat.FrameDur.Milliseconds())

	go func() {
		<-b.ctx.Done()
		dp.Pump.Stop()
	}()

	statsDone := make(chan struct{})
	go func() {
		defer close(statsDone)
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-b.ctx.Done():
				return
			case <-ticker.C:
				stats := dp.Monitor.CurrentStats()
				b.logger.Info("sip->tg stats",
					"niq_latency_ms", time.Duration(stats.NIQLatencyNs).Milliseconds(),
					"queue_len", b.sipToTGBuffer.LenFrames(),
					"alive", dp.Monitor.IsAlive(),
				)
			}
		}
	}()

	code := dp.Pump.Run()
	b.logger.Info("writeTG stopped", "status", code.String())
	<-statsDone
}

func (b *MediaBridge) writeSIP() {
	defer b.wg.Done()
	if b.sip == nil || b.sip.LKCodec == nil {
		b.logger.Warn("sip media not ready (no codec)")
		return
	}
	if b.sip.RTPWriter() == nil {
		b.logger.Warn("sip rtp writer not available")
		return
	}

	// media-sdk assumes 20ms frames in its RTP stream timestamping.
	// We keep TG pacing at 10ms, but only encode/send every 20ms (two TG frames).
	tgFrameDur := b.tgFormat.FrameDur
	ticker := time.NewTicker(tgFrameDur)
	defer ticker.Stop()
	silence := make([]byte, b.tgFormat.FrameBytes())

	pt := b.sip.PayloadType()
	lkInfo := b.sip.LKCodec.Info()
	enc, err := pipeline.BuildSipEncodePipeline(pipeline.SipEncodeConfig{
		Codec:       b.sip.LKCodec,
		PayloadType: pt,
		RTPClock:    b.sip.RTPClockRate,
		SourceRate:  b.tgFormat.SampleRate,
		RTPWriter:   b.sip.RTPWriter(),
	})
	if err != nil {
		b.logger.Warn("sip encode pipeline failed", "error", err)
		return
	}
	out := enc.Writer

	// Assemble TG 10ms frames into 20ms PCM16 samples at TG rate.
	tgSamplesPer10ms := b.tgFormat.FrameBytes() / 2 // interleaved samples
	assembler := pcm.NewPCM16Assembler(tgSamplesPer10ms * 2)

	var (
		tgFrameCount   int
		sipFrameCount  int
		realFrameCount int

		inBuf     msdk.PCM16Sample
		tmpCh     msdk.PCM16Sample
		lastWrite time.Time
	)
	for {
		select {
		case <-b.ctx.Done():
			b.logger.Info("writeSIP stopped", "tg_frames", tgFrameCount, "sip_frames", sipFrameCount, "real_frames", realFrameCount)
			return
		case <-ticker.C:
			backlog := len(b.tg.SpeakerFrames())
			// Keep real-time pace; drop oldest frames if TG backlog grows.
			if backlog > b.driftTarget {
				// Drop gradually to avoid audible "time jumps".
				toDrop := backlog - b.driftTarget
				if b.driftMaxBurst > 0 && toDrop > b.driftMaxBurst {
					toDrop = b.driftMaxBurst
				}
				dropped := drainFrames(b.tg.SpeakerFrames(), toDrop)
				if dropped > 0 && (dropped >= 10 || tgFrameCount == 0) {
					b.logger.Warn("tg->sip backlog drop", "dropped_frames", dropped, "backlog_before", backlog, "target", b.driftTarget)
				}
			}

			frame := popFrame(b.tg.SpeakerFrames(), silence)
			tgFrameCount++
			isSilence := &frame[0] == &silence[0]
			if !isSilence {
				realFrameCount++
			}

			// bytes -> PCM16Sample (TG sample rate)
			inBuf = pcm.PCM16BytesToSample(inBuf, frame)

			for _, outFrame := range assembler.Push(inBuf) {
				sipFrameCount++

				// If we are delayed vs wall clock, advance RTP timestamp to avoid "playing in the past".
				if !lastWrite.IsZero() {
					dt := time.Since(lastWrite)
					if dt > b.sipFormat.FrameDur*2 {
						skip := dt - b.sipFormat.FrameDur
						if skip > 0 {
							enc.Delay(uint32(skip.Seconds() * float64(lkInfo.RTPClockRate)))
						}
					}
				}

				// Channel conversion (TG mono <-> SIP stereo) at TG rate, before resample+encode.
				tmpCh = pcm.PCM16ConvertChannels(tmpCh, outFrame, 1, b.sip.Channels)

				if err := out.WriteSample(tmpCh); err != nil {
					b.logger.Warn("sip rtp encode/write failed", "error", err)
					return
				}
				lastWrite = time.Now()
			}
		}
	}
}

func drainFrames(queue <-chan []byte, max int) int {
	dropped := 0
	for dropped < max {
		select {
		case <-queue:
			dropped++
		default:
			return dropped
		}
	}
	return dropped
}

func popFrame(queue <-chan []byte, fallback []byte) []byte {
	select {
	case frame := <-queue:
		return frame
	default:
		return fallback
	}
}
