// Package gguf names the GGUF file types understood by llama.cpp's converter
// and quantizer, and the file naming used for pipeline artifacts.
package gguf

import (
	"fmt"
	"strings"
)

// DefaultScheme is the 4-bit mixed-precision scheme shipped to devices.
const DefaultScheme = "Q4_K_M"

// DefaultOutType is the full-precision type requested from the converter.
const DefaultOutType = "f16"

// Schemes lists the type names accepted by llama-quantize.
var Schemes = []string{
	"Q4_0", "Q4_1", "Q5_0", "Q5_1",
	"IQ2_XXS", "IQ2_XS", "IQ2_S", "IQ2_M", "IQ1_S", "IQ1_M",
	"TQ1_0", "TQ2_0",
	"Q2_K", "Q2_K_S",
	"IQ3_XXS", "IQ3_S", "IQ3_M", "Q3_K", "IQ3_XS", "Q3_K_S", "Q3_K_M", "Q3_K_L",
	"IQ4_NL", "IQ4_XS",
	"Q4_K", "Q4_K_S", "Q4_K_M",
	"Q5_K", "Q5_K_S", "Q5_K_M",
	"Q6_K", "Q8_0", "MXFP4_MOE",
	"F16", "BF16", "F32", "COPY",
}

// OutTypes lists the --outtype values accepted by convert_hf_to_gguf.py.
var OutTypes = []string{"f32", "f16", "bf16", "q8_0", "tq1_0", "tq2_0", "auto"}

// IsScheme reports whether s is a quantization type name. Matching is exact:
// llama-quantize is case sensitive.
func IsScheme(s string) bool {
	for _, scheme := range Schemes {
		if s == scheme {
			return true
		}
	}
	return false
}

func IsOutType(s string) bool {
	for _, t := range OutTypes {
		if s == t {
			return true
		}
	}
	return false
}

// FileName returns the artifact name for a model quantized with scheme,
// e.g. "Qwen2.5-1.5B-Instruct_Q4_K_M.gguf".
func FileName(modelName, scheme string) string {
	return fmt.Sprintf("%s_%s.gguf", modelName, scheme)
}

// ModelName returns the repository part of a hub model id
// ("Qwen/Qwen2.5-1.5B-Instruct" -> "Qwen2.5-1.5B-Instruct").
func ModelName(modelID string) string {
	modelID = strings.TrimSuffix(strings.TrimSpace(modelID), "/")
	if i := strings.LastIndex(modelID, "/"); i >= 0 {
		return modelID[i+1:]
	}
	return modelID
}
