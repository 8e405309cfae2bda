// Package model defines shared data types for the market-data pipeline.
//
// Conventions:
//   - Stored prices: float64 major currency units (wire minor units / 100)
//   - Tick timestamps: int64 milliseconds since Unix epoch
//   - Candle times: BarTime; epoch seconds intraday, calendar date daily+
package model
