// Package analysis defines the typed result records produced by the
// windowed signal-processing analyzers (FFT, oscillation, SNR/THD,
// fault detection). Each analyzer returns one of these instead of a
// loosely-typed map, so downstream persistence and tests have a fixed
// contract to check against.
package analysis

import "time"

// FFTResult is the output of the windowed FFT analyzer (C3). All slices
// have length W/2 where W is the analysis window size.
type FFTResult struct {
	SignalID          string
	Frequencies       []float64 // Hz, f_k = k * sample_rate / W
	Magnitudes        []float64 // linear, scaled 2/W
	Power             []float64 // Magnitudes squared
	DominantFrequency float64
	DominantMagnitude float64
	DominantModes     []Mode // top 5, descending magnitude, k >= 1
	SampleRate        float64
	WindowSize        int
	Timestamp         time.Time
}

// Mode is a single (frequency, magnitude) pair, used for the FFT's
// dominant-mode list.
type Mode struct {
	Frequency float64
	Magnitude float64
}

// BandPower sums the power spectrum over bins whose frequency falls in
// [loHz, hiHz].
func (r FFTResult) BandPower(loHz, hiHz float64) float64 {
	var total float64
	for i, f := range r.Frequencies {
		if f >= loHz && f <= hiHz {
			total += r.Power[i]
		}
	}
	return total
}

// OscillationType classifies a detected oscillation by its dominant
// in-band frequency.
type OscillationType string

const (
	OscillationInterArea OscillationType = "inter-area"
	OscillationLocal     OscillationType = "local"
	OscillationNone      OscillationType = "none"
)

// OscillationResult is the output of the bandpass oscillation detector
// (C4).
type OscillationResult struct {
	SignalID          string
	Detected          bool
	DominantFrequency float64
	DominantMagnitude float64
	Type              OscillationType
	InBandPower       float64
	BaselinePower     float64
	Threshold         float64
	DampingRatio      float64 // in [0,1]
	Timestamp         time.Time
	BandLowHz         float64
	BandHighHz        float64
}

// SNRQuality is a coarse bucketing of the combined SNR estimate.
type SNRQuality string

const (
	SNRExcellent SNRQuality = "excellent" // > 40 dB
	SNRGood      SNRQuality = "good"      // > 30 dB
	SNRFair      SNRQuality = "fair"      // > 20 dB
	SNRPoor      SNRQuality = "poor"      // <= 20 dB
)

// SNRResult is the output of the SNR/THD estimator (C5).
type SNRResult struct {
	SignalID    string
	SNRDb       float64 // mean of freq- and time-domain estimates
	SNRFreqDb   float64
	SNRTimeDb   float64
	SignalPower float64
	NoisePower  float64
	THDPercent  float64
	DCOffset    float64
	Quality     SNRQuality
	Timestamp   time.Time
}

// ClassifySNRQuality buckets a combined SNR (dB) value per spec.md's
// fixed thresholds.
func ClassifySNRQuality(snrDb float64) SNRQuality {
	switch {
	case snrDb > 40:
		return SNRExcellent
	case snrDb > 30:
		return SNRGood
	case snrDb > 20:
		return SNRFair
	default:
		return SNRPoor
	}
}

// FaultSeverity ranks how severe a detected fault is.
type FaultSeverity string

const (
	FaultSeverityLow      FaultSeverity = "low"
	FaultSeverityMedium   FaultSeverity = "medium"
	FaultSeverityHigh     FaultSeverity = "high"
	FaultSeverityCritical FaultSeverity = "critical"
)

// FaultResult is the per-sample output of the fault detector (C6).
type FaultResult struct {
	SignalID        string
	Detected        bool
	FaultType       string
	SignalType      string
	Value           float64
	Baseline        float64
	Deviation       float64
	DeviationRatio  float64
	RateOfChange    float64
	Severity        FaultSeverity
	Active          bool
	Message         string
	Timestamp       time.Time
}
