package platform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/grafov/m3u8"

	"github.com/ytget/playlist-converter/internal/model"
)

// HLS constants
const (
	HLSAlternativeAudio = "AUDIO"
	HLSMimeType         = "application/x-mpegURL"
)

// Codec prefixes that identify video renditions in a CODECS attribute
var videoCodecPrefixes = []string{"avc1", "avc3", "hvc1", "hev1", "vp09", "vp9", "av01"}

// HLSAudioVariants downloads an HLS master manifest and lists its audio renditions
func HLSAudioVariants(ctx context.Context, client *http.Client, manifestURL string) ([]model.StreamDescriptor, error) {
	base, err := url.Parse(manifestURL)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest request: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected manifest status: %s", resp.Status)
	}

	return ParseHLSAudioVariants(base, resp.Body)
}

// ParseHLSAudioVariants lists the audio renditions of a master manifest:
// EXT-X-MEDIA audio alternatives and variants whose codecs carry no video.
// Relative URIs are resolved against base.
func ParseHLSAudioVariants(base *url.URL, r io.Reader) ([]model.StreamDescriptor, error) {
	playlist, listType, err := m3u8.DecodeFrom(r, true)
	if err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if listType != m3u8.MASTER {
		return nil, fmt.Errorf("manifest is not a master playlist")
	}
	master := playlist.(*m3u8.MasterPlaylist)

	seen := make(map[string]bool)
	var streams []model.StreamDescriptor
	add := func(uri string, bandwidth uint32, codecs string) {
		if uri == "" {
			return
		}
		resolved := resolveURI(base, uri)
		if seen[resolved] {
			return
		}
		seen[resolved] = true
		streams = append(streams, model.StreamDescriptor{
			URL:      resolved,
			Bitrate:  int(bandwidth),
			Codec:    codecs,
			MimeType: HLSMimeType,
		})
	}

	// An audio rendition is ranked by the lowest variant bandwidth of its
	// group, the variant that carries the least video alongside it
	groupBandwidth := make(map[string]uint32)
	for _, variant := range master.Variants {
		if variant == nil || variant.Audio == "" {
			continue
		}
		if current, ok := groupBandwidth[variant.Audio]; !ok || variant.Bandwidth < current {
			groupBandwidth[variant.Audio] = variant.Bandwidth
		}
	}

	for _, variant := range master.Variants {
		if variant == nil {
			continue
		}
		for _, alt := range variant.Alternatives {
			if alt == nil || alt.Type != HLSAlternativeAudio {
				continue
			}
			bandwidth, ok := groupBandwidth[alt.GroupId]
			if !ok {
				bandwidth = variant.Bandwidth
			}
			add(alt.URI, bandwidth, audioCodecs(variant.Codecs))
		}
		if variant.Codecs != "" && !hasVideoCodec(variant.Codecs) {
			add(variant.URI, variant.Bandwidth, variant.Codecs)
		}
	}
	return streams, nil
}

func hasVideoCodec(codecs string) bool {
	for _, codec := range strings.Split(codecs, ",") {
		codec = strings.TrimSpace(codec)
		for _, prefix := range videoCodecPrefixes {
			if strings.HasPrefix(codec, prefix) {
				return true
			}
		}
	}
	return false
}

// audioCodecs drops the video codecs from a CODECS attribute
func audioCodecs(codecs string) string {
	var audio []string
	for _, codec := range strings.Split(codecs, ",") {
		codec = strings.TrimSpace(codec)
		if codec != "" && !hasVideoCodec(codec) {
			audio = append(audio, codec)
		}
	}
	return strings.Join(audio, ",")
}

func resolveURI(base *url.URL, uri string) string {
	ref, err := url.Parse(uri)
	if err != nil || base == nil {
		return uri
	}
	return base.ResolveReference(ref).String()
}
